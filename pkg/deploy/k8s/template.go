package k8s

import (
	"fmt"
	"os"

	corev1 "k8s.io/api/core/v1"
	"sigs.k8s.io/yaml"
)

const workerContainerName = "virtual-participant"

// LoadPodTemplate reads a worker pod template (YAML or JSON). An empty path
// yields the built-in single-container template.
func LoadPodTemplate(path, image string) (*corev1.Pod, error) {
	if path == "" {
		return DefaultPodTemplate(image)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pod template %s: %w", path, err)
	}
	return ParsePodTemplate(content, image)
}

// ParsePodTemplate decodes a pod template and applies the image override
func ParsePodTemplate(content []byte, image string) (*corev1.Pod, error) {
	var pod corev1.Pod
	if err := yaml.Unmarshal(content, &pod); err != nil {
		return nil, fmt.Errorf("failed to parse pod template: %w", err)
	}
	if len(pod.Spec.Containers) == 0 {
		return nil, fmt.Errorf("pod template has no containers")
	}
	if image != "" {
		pod.Spec.Containers[0].Image = image
	}
	if pod.Spec.Containers[0].Image == "" {
		return nil, fmt.Errorf("pod template has no image and none is configured")
	}
	if pod.Spec.RestartPolicy == "" {
		// one pod per worker lifetime, a crashed worker is replaced by the pool
		pod.Spec.RestartPolicy = corev1.RestartPolicyNever
	}
	return &pod, nil
}

// DefaultPodTemplate minimal template running image
func DefaultPodTemplate(image string) (*corev1.Pod, error) {
	if image == "" {
		return nil, fmt.Errorf("k8s.image is required when no pod template is configured")
	}
	return &corev1.Pod{
		Spec: corev1.PodSpec{
			RestartPolicy: corev1.RestartPolicyNever,
			Containers: []corev1.Container{{
				Name:  workerContainerName,
				Image: image,
			}},
		},
	}, nil
}
