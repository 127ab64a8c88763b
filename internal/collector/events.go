package collector

import (
	"context"
	"fmt"
	"sort"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

// SortedEvents lists the events of a namespace ordered by creation time,
// oldest first. An event without a creation timestamp sorts as time zero.
func SortedEvents(ctx context.Context, core kubernetes.Interface, namespace string) (*corev1.EventList, error) {
	events, err := core.CoreV1().Events(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("listing events in namespace %s: %w", namespace, err)
	}
	sortEvents(events.Items)
	return events, nil
}

func sortEvents(items []corev1.Event) {
	sort.SliceStable(items, func(i, j int) bool {
		ti, tj := items[i].CreationTimestamp.Time, items[j].CreationTimestamp.Time
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return items[i].Name < items[j].Name
	})
}
