package eventbus

import (
	"testing"
)

func TestPrefixFilter(t *testing.T) {
	t.Parallel()
	b := New()
	recruit, unsub := b.Subscribe(4, "recruit.")
	defer unsub()
	all, unsubAll := b.Subscribe(4)
	defer unsubAll()

	b.Publish(Event{Type: "plugin.started"})
	b.Publish(Event{Type: "recruit.closed", Data: "ab12"})

	e := <-recruit
	if e.Type != "recruit.closed" || e.Data != "ab12" || e.Time.IsZero() {
		t.Fatalf("recruit got %+v", e)
	}
	if len(recruit) != 0 {
		t.Fatalf("recruit buffered %d extra events", len(recruit))
	}
	if len(all) != 2 {
		t.Fatalf("all buffered %d, want 2", len(all))
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	t.Parallel()
	b := New()
	_, unsub := b.Subscribe(1)
	for i := 0; i < 5; i++ {
		b.Publish(Event{Type: "x"})
	}
	if got := b.Dropped(); got != 4 {
		t.Fatalf("Dropped = %d, want 4", got)
	}
	unsub()
	unsub()
	b.Publish(Event{Type: "x"})
}
