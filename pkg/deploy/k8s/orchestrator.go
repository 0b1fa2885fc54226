package k8s

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"vpool/internal/model"
	"vpool/pkg/config"
	"vpool/pkg/constants"
	"vpool/pkg/logger"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/util/rand"
)

// Orchestrator runs each worker as a single pod; the pod name is the task handle
type Orchestrator struct {
	manager  *Manager
	template *corev1.Pod
	cfg      config.K8sConfig
}

// NewOrchestrator creates a pod orchestrator from a worker pod template
func NewOrchestrator(manager *Manager, template *corev1.Pod, cfg config.K8sConfig) *Orchestrator {
	return &Orchestrator{
		manager:  manager,
		template: template,
		cfg:      cfg,
	}
}

// StartWorker creates a worker pod and returns its name
func (o *Orchestrator) StartWorker(ctx context.Context, workerID string, env map[string]string) (string, error) {
	pod := o.buildPod(workerID, env)

	created, err := o.manager.Client().CoreV1().Pods(o.manager.Namespace()).Create(ctx, pod, metav1.CreateOptions{})
	if err != nil {
		return "", fmt.Errorf("%w: %v", model.ErrLaunchFailed, err)
	}
	if created == nil || created.Name == "" {
		return "", fmt.Errorf("%w: no pod name returned", model.ErrLaunchFailed)
	}

	logger.InfoCtx(ctx, "worker pod %s created for worker %s", created.Name, workerID)
	return created.Name, nil
}

func (o *Orchestrator) buildPod(workerID string, env map[string]string) *corev1.Pod {
	pod := o.template.DeepCopy()
	pod.Name = o.cfg.NamePrefix + rand.String(5)
	pod.Namespace = o.manager.Namespace()
	pod.ResourceVersion = ""

	if pod.Labels == nil {
		pod.Labels = make(map[string]string)
	}
	for k, v := range o.cfg.CostTags {
		pod.Labels[k] = v
	}
	pod.Labels[constants.LabelManagedBy] = constants.ManagedByVpool
	pod.Labels[constants.LabelComponent] = constants.ComponentWorker
	pod.Labels[constants.LabelWorkerID] = workerID

	merged := make(map[string]string, len(o.cfg.Env)+len(env)+2)
	for k, v := range o.cfg.Env {
		merged[k] = v
	}
	for k, v := range env {
		merged[k] = v
	}
	merged[constants.EnvWorkerID] = workerID
	merged[constants.EnvTaskRole] = constants.TaskRoleVirtualParticipant

	container := &pod.Spec.Containers[0]
	if o.cfg.Image != "" {
		container.Image = o.cfg.Image
	}
	container.Env = mergeEnv(container.Env, merged)
	return pod
}

// mergeEnv overrides template env vars by name and appends the rest in key order
func mergeEnv(existing []corev1.EnvVar, values map[string]string) []corev1.EnvVar {
	result := make([]corev1.EnvVar, 0, len(existing)+len(values))
	for _, e := range existing {
		if _, ok := values[e.Name]; ok {
			continue
		}
		result = append(result, e)
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		result = append(result, corev1.EnvVar{Name: k, Value: values[k]})
	}
	return result
}

// StopWorker deletes the worker pod, recording reason on it first
func (o *Orchestrator) StopWorker(ctx context.Context, taskID, reason string) error {
	return o.stopPod(ctx, taskID, constants.StopCodeUserInitiated, reason)
}

// ListTasks lists the worker pods this service launched. Pods already being
// deleted are left out.
func (o *Orchestrator) ListTasks(ctx context.Context) ([]model.TaskInfo, error) {
	selector := labels.SelectorFromSet(labels.Set{constants.LabelManagedBy: constants.ManagedByVpool}).String()
	list, err := o.manager.Client().CoreV1().Pods(o.manager.Namespace()).List(ctx, metav1.ListOptions{LabelSelector: selector})
	if err != nil {
		return nil, fmt.Errorf("failed to list worker pods: %w", err)
	}

	tasks := make([]model.TaskInfo, 0, len(list.Items))
	for i := range list.Items {
		pod := &list.Items[i]
		if pod.DeletionTimestamp != nil || pod.Labels[constants.LabelComponent] != constants.ComponentWorker {
			continue
		}
		tasks = append(tasks, model.TaskInfo{
			TaskID:    pod.Name,
			WorkerID:  pod.Labels[constants.LabelWorkerID],
			CreatedAt: pod.CreationTimestamp.Time,
		})
	}
	return tasks, nil
}

func (o *Orchestrator) stopPod(ctx context.Context, podName, stopCode, reason string) error {
	if podName == "" {
		return nil
	}
	pods := o.manager.Client().CoreV1().Pods(o.manager.Namespace())

	patch, err := json.Marshal(map[string]interface{}{
		"metadata": map[string]interface{}{
			"annotations": map[string]string{
				constants.AnnotationReason:   reason,
				constants.AnnotationStopCode: stopCode,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to build stop annotation patch: %w", err)
	}
	if _, err := pods.Patch(ctx, podName, types.MergePatchType, patch, metav1.PatchOptions{}); err != nil {
		if errors.IsNotFound(err) {
			return nil
		}
		// The annotation only labels the stop, deletion still proceeds
		logger.WarnCtx(ctx, "failed to annotate pod %s before stop: %v", podName, err)
	}

	grace := o.cfg.StopGraceSec
	err = pods.Delete(ctx, podName, metav1.DeleteOptions{GracePeriodSeconds: &grace})
	if err != nil {
		if errors.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to delete pod %s: %w", podName, err)
	}

	logger.InfoCtx(ctx, "worker pod %s stopping (%s): %s", podName, stopCode, reason)
	return nil
}
