package k8s

import (
	"context"
	"strings"
	"sync"
	"time"

	"vpool/internal/model"
	"vpool/pkg/constants"
	"vpool/pkg/interfaces"
	"vpool/pkg/logger"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/client-go/tools/cache"
)

// fatalStartReasons container waiting reasons a pod never recovers from
var fatalStartReasons = map[string]bool{
	"ImagePullBackOff":           true,
	"ErrImagePull":               true,
	"InvalidImageName":           true,
	"ImageInspectError":          true,
	"CreateContainerConfigError": true,
	"CreateContainerError":       true,
}

// TaskWatcher turns worker pod events into task state notifications.
// Terminated pods are deleted once their STOPPED notification is published,
// and pods that cannot start are stopped with TaskFailedToStart.
type TaskWatcher struct {
	manager      *Manager
	orchestrator *Orchestrator
	publisher    interfaces.TaskStatePublisher
	now          func() time.Time

	mu   sync.Mutex
	last map[string]constants.TaskStatus // Pod name -> last published status
}

// NewTaskWatcher creates a watcher; call Register before Manager.Start
func NewTaskWatcher(manager *Manager, orchestrator *Orchestrator, publisher interfaces.TaskStatePublisher) *TaskWatcher {
	return &TaskWatcher{
		manager:      manager,
		orchestrator: orchestrator,
		publisher:    publisher,
		now:          time.Now,
		last:         make(map[string]constants.TaskStatus),
	}
}

// Register hooks the watcher into the manager's pod informer
func (w *TaskWatcher) Register() error {
	return w.manager.AddPodHandler(cache.ResourceEventHandlerFuncs{
		AddFunc: func(obj interface{}) {
			if pod, ok := obj.(*corev1.Pod); ok {
				w.onPod(pod)
			}
		},
		UpdateFunc: func(_, newObj interface{}) {
			if pod, ok := newObj.(*corev1.Pod); ok {
				w.onPod(pod)
			}
		},
		DeleteFunc: func(obj interface{}) {
			pod, ok := obj.(*corev1.Pod)
			if !ok {
				tombstone, ok := obj.(cache.DeletedFinalStateUnknown)
				if !ok {
					return
				}
				if pod, ok = tombstone.Obj.(*corev1.Pod); !ok {
					return
				}
			}
			w.onPodDeleted(pod)
		},
	})
}

func (w *TaskWatcher) onPod(pod *corev1.Pod) {
	ctx := context.Background()

	if pod.DeletionTimestamp == nil && pod.Status.Phase == corev1.PodPending {
		if reason, message := startFailure(pod); reason != "" {
			logger.WarnCtx(ctx, "worker pod %s cannot start: %s %s", pod.Name, reason, message)
			if err := w.orchestrator.stopPod(ctx, pod.Name, constants.StopCodeTaskFailed, reason); err != nil {
				logger.ErrorCtx(ctx, "failed to stop unstartable pod %s: %v", pod.Name, err)
			}
			return
		}
	}

	change := TaskStateFromPod(pod, w.now())
	if change == nil {
		return
	}
	if !w.publish(ctx, pod.Name, change) {
		return
	}

	if change.LastStatus == constants.TaskStatusStopped && pod.DeletionTimestamp == nil {
		// Terminated pods are not restarted, remove the object
		if err := w.orchestrator.stopPod(ctx, pod.Name, change.StopCode, change.Reason); err != nil {
			logger.WarnCtx(ctx, "failed to remove terminated pod %s: %v", pod.Name, err)
		}
	}
}

func (w *TaskWatcher) onPodDeleted(pod *corev1.Pod) {
	ctx := context.Background()

	stopCode := pod.Annotations[constants.AnnotationStopCode]
	if stopCode == "" {
		stopCode = constants.StopCodeServiceDeleted
	}
	change := &model.TaskStateChange{
		TaskID:     pod.Name,
		LastStatus: constants.TaskStatusStopped,
		StopCode:   stopCode,
		Reason:     pod.Annotations[constants.AnnotationReason],
		StoppedAt:  terminatedAt(pod, w.now()),
		ObservedAt: w.now(),
	}
	w.publish(ctx, pod.Name, change)

	w.mu.Lock()
	delete(w.last, pod.Name)
	w.mu.Unlock()
}

// publish sends change unless it repeats the last status published for the pod.
// Nothing follows a published STOPPED.
func (w *TaskWatcher) publish(ctx context.Context, podName string, change *model.TaskStateChange) bool {
	w.mu.Lock()
	if last := w.last[podName]; last == change.LastStatus || last == constants.TaskStatusStopped {
		w.mu.Unlock()
		return false
	}
	w.last[podName] = change.LastStatus
	w.mu.Unlock()

	if err := w.publisher.PublishTaskStateChange(ctx, change); err != nil {
		logger.ErrorCtx(ctx, "failed to publish task state %s for pod %s: %v", change.LastStatus, podName, err)
		// Forget the status so the next resync publishes it again
		w.mu.Lock()
		delete(w.last, podName)
		w.mu.Unlock()
		return false
	}
	return true
}

// TaskStateFromPod maps a pod to a task lifecycle notification; nil for phases with no task status
func TaskStateFromPod(pod *corev1.Pod, now time.Time) *model.TaskStateChange {
	change := &model.TaskStateChange{
		TaskID:     pod.Name,
		ObservedAt: now,
	}

	switch {
	case pod.DeletionTimestamp != nil:
		change.LastStatus = constants.TaskStatusDeprovisioning
		change.Reason = pod.Annotations[constants.AnnotationReason]
	case pod.Status.Phase == corev1.PodSucceeded || pod.Status.Phase == corev1.PodFailed:
		change.LastStatus = constants.TaskStatusStopped
		change.StoppedAt = terminatedAt(pod, now)
		change.StopCode, change.Reason = stopCause(pod)
	case pod.Status.Phase == corev1.PodRunning:
		change.LastStatus = constants.TaskStatusRunning
	case pod.Status.Phase == corev1.PodPending:
		if pod.Spec.NodeName == "" {
			change.LastStatus = constants.TaskStatusProvisioning
		} else {
			change.LastStatus = constants.TaskStatusPending
		}
	default:
		return nil
	}
	return change
}

// stopCause derives the stop code and reason of a terminated pod
func stopCause(pod *corev1.Pod) (string, string) {
	if code := pod.Annotations[constants.AnnotationStopCode]; code != "" {
		return code, pod.Annotations[constants.AnnotationReason]
	}

	for _, cs := range pod.Status.ContainerStatuses {
		if t := cs.State.Terminated; t != nil {
			reason := t.Reason
			if t.Message != "" {
				reason += ": " + t.Message
			}
			return constants.StopCodeEssentialExit, reason
		}
	}

	// Failed before any container ran, e.g. evicted or rejected by the node
	reason := pod.Status.Reason
	if pod.Status.Message != "" {
		reason = strings.TrimSpace(reason + " " + pod.Status.Message)
	}
	return constants.StopCodeTaskFailed, reason
}

// terminatedAt latest container finish time, or now when none is recorded
func terminatedAt(pod *corev1.Pod, now time.Time) time.Time {
	var latest time.Time
	for _, cs := range pod.Status.ContainerStatuses {
		if t := cs.State.Terminated; t != nil && t.FinishedAt.Time.After(latest) {
			latest = t.FinishedAt.Time
		}
	}
	if latest.IsZero() {
		return now
	}
	return latest
}

// startFailure reports a container stuck waiting on a fatal reason
func startFailure(pod *corev1.Pod) (string, string) {
	statuses := append(append([]corev1.ContainerStatus{}, pod.Status.InitContainerStatuses...), pod.Status.ContainerStatuses...)
	for _, cs := range statuses {
		if waiting := cs.State.Waiting; waiting != nil && fatalStartReasons[waiting.Reason] {
			return waiting.Reason, waiting.Message
		}
	}
	return "", ""
}
