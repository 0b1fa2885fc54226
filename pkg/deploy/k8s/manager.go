package k8s

import (
	"context"
	"fmt"
	"sync"
	"time"

	"vpool/pkg/constants"
	"vpool/pkg/logger"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/client-go/informers"
	"k8s.io/client-go/kubernetes"
	corelisters "k8s.io/client-go/listers/core/v1"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/cache"
	"k8s.io/client-go/tools/clientcmd"
)

// Manager K8s client plus a shared pod informer scoped to vpool worker pods
type Manager struct {
	client    kubernetes.Interface
	namespace string

	informerFactory informers.SharedInformerFactory
	podInformer     cache.SharedIndexInformer
	podLister       corelisters.PodLister
	informerStopCh  chan struct{}
	startOnce       sync.Once
	stopOnce        sync.Once
}

// NewManager creates a K8s manager from in-cluster config, falling back to kubeconfig
func NewManager(namespace string) (*Manager, error) {
	config, err := rest.InClusterConfig()
	if err != nil {
		loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
		kubeConfig := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, &clientcmd.ConfigOverrides{})
		config, err = kubeConfig.ClientConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to get kubernetes config: %v", err)
		}
	}

	client, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes client: %v", err)
	}

	return NewManagerWithClient(client, namespace), nil
}

// NewManagerWithClient creates a manager around an existing clientset
func NewManagerWithClient(client kubernetes.Interface, namespace string) *Manager {
	selector := labels.SelectorFromSet(labels.Set{constants.LabelManagedBy: constants.ManagedByVpool}).String()
	informerFactory := informers.NewSharedInformerFactoryWithOptions(
		client,
		5*time.Minute, // Resync period
		informers.WithNamespace(namespace),
		informers.WithTweakListOptions(func(opts *metav1.ListOptions) {
			opts.LabelSelector = selector
		}),
	)
	podInformer := informerFactory.Core().V1().Pods()

	return &Manager{
		client:          client,
		namespace:       namespace,
		informerFactory: informerFactory,
		podInformer:     podInformer.Informer(),
		podLister:       podInformer.Lister(),
		informerStopCh:  make(chan struct{}),
	}
}

// AddPodHandler registers pod event handlers; call before Start
func (m *Manager) AddPodHandler(handler cache.ResourceEventHandler) error {
	_, err := m.podInformer.AddEventHandler(handler)
	return err
}

// Start runs the informers without blocking on the initial sync
func (m *Manager) Start() {
	m.startOnce.Do(func() {
		logger.InfoCtx(context.Background(), "starting k8s pod informer for namespace: %s", m.namespace)
		go m.informerFactory.Start(m.informerStopCh)

		go func() {
			ctx := context.Background()
			syncDone := make(chan bool, 1)
			go func() {
				syncDone <- cache.WaitForCacheSync(m.informerStopCh, m.podInformer.HasSynced)
			}()

			select {
			case ok := <-syncDone:
				if ok {
					logger.InfoCtx(ctx, "k8s pod informer synced for namespace: %s", m.namespace)
				} else {
					logger.WarnCtx(ctx, "k8s pod informer stopped before sync for namespace: %s", m.namespace)
				}
			case <-time.After(60 * time.Second):
				logger.WarnCtx(ctx, "k8s pod informer initial sync timeout after 60s for namespace: %s, check RBAC watch permissions", m.namespace)
			}
		}()
	})
}

// HasSynced reports whether the pod cache is warm
func (m *Manager) HasSynced() bool {
	return m.podInformer.HasSynced()
}

// Client returns the clientset
func (m *Manager) Client() kubernetes.Interface {
	return m.client
}

// Namespace returns the managed namespace
func (m *Manager) Namespace() string {
	return m.namespace
}

// Close stops the informers
func (m *Manager) Close() {
	m.stopOnce.Do(func() {
		close(m.informerStopCh)
	})
}
