package eventbus

import "testing"

func TestPublishFiltersByPrefix(t *testing.T) {
	t.Parallel()
	b := New()
	tasks, unsubTasks := b.Subscribe(4, "task.")
	all, unsubAll := b.Subscribe(4)
	defer unsubTasks()
	defer unsubAll()

	b.Publish(Event{Type: "task.fired"})
	b.Publish(Event{Type: "config.reloaded"})

	if got := len(tasks); got != 1 {
		t.Fatalf("task subscriber got %d events, want 1", got)
	}
	if got := len(all); got != 2 {
		t.Fatalf("catch-all subscriber got %d events, want 2", got)
	}
	if e := <-tasks; e.Type != "task.fired" || e.Time.IsZero() {
		t.Fatalf("event = %+v", e)
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	t.Parallel()
	b := New()
	_, unsub := b.Subscribe(1)
	b.Publish(Event{Type: "a"})
	b.Publish(Event{Type: "b"})
	if got := b.Dropped(); got != 1 {
		t.Fatalf("Dropped = %d, want 1", got)
	}

	unsub()
	unsub()
	b.Publish(Event{Type: "c"})
}
