package k8s

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"vpool/internal/model"
	"vpool/pkg/config"
	"vpool/pkg/constants"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"
)

const testNamespace = "vpool-test"

func newTestOrchestrator(t *testing.T, objects ...runtime.Object) (*Orchestrator, *fake.Clientset) {
	t.Helper()
	client := fake.NewSimpleClientset(objects...)
	manager := NewManagerWithClient(client, testNamespace)

	template, err := DefaultPodTemplate("registry.local/vp:1")
	require.NoError(t, err)

	cfg := config.K8sConfig{
		Namespace:    testNamespace,
		NamePrefix:   "vp-",
		CostTags:     map[string]string{"team": "media"},
		Env:          map[string]string{"STAGE_REGION": "us-west-2"},
		StopGraceSec: 5,
	}
	return NewOrchestrator(manager, template, cfg), client
}

func TestOrchestrator_StartWorker(t *testing.T) {
	orch, client := newTestOrchestrator(t)
	ctx := context.Background()

	taskID, err := orch.StartWorker(ctx, "worker-1", map[string]string{"EXTRA": "1"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(taskID, "vp-"))

	pod, err := client.CoreV1().Pods(testNamespace).Get(ctx, taskID, metav1.GetOptions{})
	require.NoError(t, err)

	assert.Equal(t, constants.ManagedByVpool, pod.Labels[constants.LabelManagedBy])
	assert.Equal(t, constants.ComponentWorker, pod.Labels[constants.LabelComponent])
	assert.Equal(t, "worker-1", pod.Labels[constants.LabelWorkerID])
	assert.Equal(t, "media", pod.Labels["team"])
	assert.Equal(t, corev1.RestartPolicyNever, pod.Spec.RestartPolicy)

	env := make(map[string]string)
	for _, e := range pod.Spec.Containers[0].Env {
		env[e.Name] = e.Value
	}
	assert.Equal(t, map[string]string{
		constants.EnvWorkerID: "worker-1",
		constants.EnvTaskRole: constants.TaskRoleVirtualParticipant,
		"STAGE_REGION":        "us-west-2",
		"EXTRA":               "1",
	}, env)
}

func TestOrchestrator_StartWorkerDoesNotShareTemplateState(t *testing.T) {
	orch, _ := newTestOrchestrator(t)
	ctx := context.Background()

	first, err := orch.StartWorker(ctx, "worker-1", nil)
	require.NoError(t, err)
	second, err := orch.StartWorker(ctx, "worker-2", nil)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.Empty(t, orch.template.Labels)
	assert.Empty(t, orch.template.Spec.Containers[0].Env)
}

func TestOrchestrator_StartWorkerCreateFailure(t *testing.T) {
	orch, client := newTestOrchestrator(t)
	client.PrependReactor("create", "pods", func(k8stesting.Action) (bool, runtime.Object, error) {
		return true, nil, errors.New("quota exceeded")
	})

	taskID, err := orch.StartWorker(context.Background(), "worker-1", nil)
	assert.Empty(t, taskID)
	assert.ErrorIs(t, err, model.ErrLaunchFailed)
}

func TestOrchestrator_StopWorker(t *testing.T) {
	pod := &corev1.Pod{ObjectMeta: metav1.ObjectMeta{Name: "vp-abcde", Namespace: testNamespace}}
	orch, client := newTestOrchestrator(t, pod)
	ctx := context.Background()

	require.NoError(t, orch.StopWorker(ctx, "vp-abcde", "pool above max"))

	_, err := client.CoreV1().Pods(testNamespace).Get(ctx, "vp-abcde", metav1.GetOptions{})
	assert.Error(t, err)

	var patched bool
	for _, action := range client.Actions() {
		if action.GetVerb() == "patch" {
			patched = true
		}
	}
	assert.True(t, patched, "stop reason should be annotated before delete")

	// Already gone
	assert.NoError(t, orch.StopWorker(ctx, "vp-abcde", "again"))
	assert.NoError(t, orch.StopWorker(ctx, "", "no task"))
}

func TestOrchestrator_ListTasks(t *testing.T) {
	created := metav1.NewTime(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	workerLabels := func(workerID string) map[string]string {
		return map[string]string{
			constants.LabelManagedBy: constants.ManagedByVpool,
			constants.LabelComponent: constants.ComponentWorker,
			constants.LabelWorkerID:  workerID,
		}
	}
	live := &corev1.Pod{ObjectMeta: metav1.ObjectMeta{
		Name: "vp-live1", Namespace: testNamespace, Labels: workerLabels("worker-1"), CreationTimestamp: created,
	}}
	deleting := &corev1.Pod{ObjectMeta: metav1.ObjectMeta{
		Name: "vp-gone1", Namespace: testNamespace, Labels: workerLabels("worker-2"),
		CreationTimestamp: created, DeletionTimestamp: &created,
	}}
	unrelated := &corev1.Pod{ObjectMeta: metav1.ObjectMeta{
		Name: "sidecar", Namespace: testNamespace, Labels: map[string]string{"app": "other"},
	}}
	orch, _ := newTestOrchestrator(t, live, deleting, unrelated)

	tasks, err := orch.ListTasks(context.Background())
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "vp-live1", tasks[0].TaskID)
	assert.Equal(t, "worker-1", tasks[0].WorkerID)
	assert.True(t, tasks[0].CreatedAt.Equal(created.Time))
}

func TestOrchestrator_ListTasksIncludesLaunchedWorkers(t *testing.T) {
	orch, _ := newTestOrchestrator(t)
	ctx := context.Background()

	taskID, err := orch.StartWorker(ctx, "worker-9", nil)
	require.NoError(t, err)

	tasks, err := orch.ListTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, taskID, tasks[0].TaskID)
	assert.Equal(t, "worker-9", tasks[0].WorkerID)
}

func TestParsePodTemplate(t *testing.T) {
	content := []byte(`
metadata:
  labels:
    app: vp
spec:
  containers:
  - name: vp
    image: registry.local/vp:template
    env:
    - name: WORKER_ID
      value: placeholder
    - name: LOG_LEVEL
      value: debug
`)

	t.Run("image override", func(t *testing.T) {
		pod, err := ParsePodTemplate(content, "registry.local/vp:2")
		require.NoError(t, err)
		assert.Equal(t, "registry.local/vp:2", pod.Spec.Containers[0].Image)
		assert.Equal(t, corev1.RestartPolicyNever, pod.Spec.RestartPolicy)
		assert.Equal(t, "vp", pod.Labels["app"])
	})

	t.Run("template image kept", func(t *testing.T) {
		pod, err := ParsePodTemplate(content, "")
		require.NoError(t, err)
		assert.Equal(t, "registry.local/vp:template", pod.Spec.Containers[0].Image)
	})

	t.Run("no containers", func(t *testing.T) {
		_, err := ParsePodTemplate([]byte("spec: {}"), "img")
		assert.Error(t, err)
	})

	t.Run("env override", func(t *testing.T) {
		pod, err := ParsePodTemplate(content, "")
		require.NoError(t, err)
		env := mergeEnv(pod.Spec.Containers[0].Env, map[string]string{constants.EnvWorkerID: "w1"})
		assert.Equal(t, []corev1.EnvVar{
			{Name: "LOG_LEVEL", Value: "debug"},
			{Name: constants.EnvWorkerID, Value: "w1"},
		}, env)
	})
}
