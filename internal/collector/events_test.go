package collector

import (
	"context"
	"testing"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"
)

func event(name string, created time.Time) *corev1.Event {
	return &corev1.Event{ObjectMeta: metav1.ObjectMeta{
		Name:              name,
		Namespace:         "team-a",
		CreationTimestamp: metav1.NewTime(created),
	}}
}

func TestSortedEvents(t *testing.T) {
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	client := fake.NewSimpleClientset(
		event("c-late", base.Add(2*time.Minute)),
		event("b-missing", time.Time{}),
		event("a-early", base),
		event("d-same", base),
		&corev1.Event{ObjectMeta: metav1.ObjectMeta{Name: "other-ns", Namespace: "team-b"}},
	)

	events, err := SortedEvents(context.Background(), client, "team-a")
	if err != nil {
		t.Fatalf("SortedEvents() error: %v", err)
	}

	want := []string{"b-missing", "a-early", "d-same", "c-late"}
	if len(events.Items) != len(want) {
		t.Fatalf("got %d events, want %d", len(events.Items), len(want))
	}
	for i, name := range want {
		if events.Items[i].Name != name {
			t.Errorf("event %d = %q, want %q", i, events.Items[i].Name, name)
		}
	}

	for i := 1; i < len(events.Items); i++ {
		if events.Items[i].CreationTimestamp.Before(&events.Items[i-1].CreationTimestamp) {
			t.Errorf("events not sorted at index %d", i)
		}
	}
}

func TestSortedEvents_Empty(t *testing.T) {
	events, err := SortedEvents(context.Background(), fake.NewSimpleClientset(), "team-a")
	if err != nil {
		t.Fatalf("SortedEvents() error: %v", err)
	}
	if len(events.Items) != 0 {
		t.Errorf("got %d events, want 0", len(events.Items))
	}
}
