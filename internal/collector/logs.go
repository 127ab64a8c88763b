package collector

import (
	"context"
	"fmt"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

// LogSource fetches the log of a single container.
type LogSource interface {
	ContainerLogs(ctx context.Context, namespace, pod, container string) (string, error)
}

type clusterLogSource struct {
	core kubernetes.Interface
}

// NewLogSource returns a LogSource reading from the pod log subresource, with
// timestamps enabled.
func NewLogSource(core kubernetes.Interface) LogSource {
	return &clusterLogSource{core: core}
}

func (s *clusterLogSource) ContainerLogs(ctx context.Context, namespace, pod, container string) (string, error) {
	raw, err := s.core.CoreV1().Pods(namespace).GetLogs(pod, &corev1.PodLogOptions{
		Container:  container,
		Timestamps: true,
	}).DoRaw(ctx)
	if err != nil {
		return "", fmt.Errorf("getting logs for %s/%s container=%s: %w", namespace, pod, container, err)
	}
	return string(raw), nil
}

// ContainerLog is the log text of one container, or the reason it is missing.
type ContainerLog struct {
	Log   string `json:"log,omitempty"`
	Error string `json:"error,omitempty"`
}

// Text renders the log as written into the bundle.
func (l ContainerLog) Text() string {
	if l.Error != "" {
		return "Error: " + l.Error
	}
	return l.Log
}

// PodLogBundle maps container names of one pod to their logs.
type PodLogBundle map[string]ContainerLog

// PodLogs fetches the logs of every init and regular container declared on the
// pod. A container that fails is recorded in the bundle; PodLogs never fails.
func PodLogs(ctx context.Context, source LogSource, pod *corev1.Pod) PodLogBundle {
	containers := make([]string, 0, len(pod.Spec.InitContainers)+len(pod.Spec.Containers))
	for _, c := range pod.Spec.InitContainers {
		containers = append(containers, c.Name)
	}
	for _, c := range pod.Spec.Containers {
		containers = append(containers, c.Name)
	}

	bundle := make(PodLogBundle, len(containers))
	for _, name := range containers {
		text, err := source.ContainerLogs(ctx, pod.Namespace, pod.Name, name)
		if err != nil {
			bundle[name] = ContainerLog{Error: err.Error()}
			continue
		}
		bundle[name] = ContainerLog{Log: text}
	}
	return bundle
}

// boundedLogSource gives every container log request its own deadline.
type boundedLogSource struct {
	LogSource
	timeout time.Duration
}

func (s boundedLogSource) ContainerLogs(ctx context.Context, namespace, pod, container string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.LogSource.ContainerLogs(ctx, namespace, pod, container)
}

// namespacePodLogs collects the log bundle of every pod in the namespace, keyed
// by pod name. The pod list and each container log are bounded by timeout
// separately, so a namespace with many containers is never cut short.
func namespacePodLogs(ctx context.Context, core kubernetes.Interface, source LogSource, namespace string, timeout time.Duration) (map[string]PodLogBundle, error) {
	listCtx, cancel := context.WithTimeout(ctx, timeout)
	pods, err := core.CoreV1().Pods(namespace).List(listCtx, metav1.ListOptions{})
	cancel()
	if err != nil {
		return nil, fmt.Errorf("listing pods in namespace %s: %w", namespace, err)
	}

	bounded := boundedLogSource{LogSource: source, timeout: timeout}
	logs := make(map[string]PodLogBundle, len(pods.Items))
	for i := range pods.Items {
		pod := &pods.Items[i]
		logs[pod.Name] = PodLogs(ctx, bounded, pod)
	}
	return logs, nil
}
