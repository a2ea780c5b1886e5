package eventbus

import "testing"

func TestSubscribeFiltersByType(t *testing.T) {
	b := New()
	all, unsubAll := b.Subscribe(4)
	defer unsubAll()
	net, unsubNet := b.Subscribe(4, "net.down")
	defer unsubNet()

	b.Publish(Event{Type: "iob.avail"})
	b.Publish(Event{Type: "net.down", Data: "eth0"})

	if got := len(all); got != 2 {
		t.Fatalf("unfiltered subscriber got %d events, want 2", got)
	}
	if got := len(net); got != 1 {
		t.Fatalf("filtered subscriber got %d events, want 1", got)
	}
	e := <-net
	if e.Data != "eth0" || e.Time.IsZero() {
		t.Fatalf("unexpected event %+v", e)
	}
}

func TestSlowSubscriberDrops(t *testing.T) {
	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()
	b.Publish(Event{Type: "a"})
	b.Publish(Event{Type: "b"})
	if got := Dropped(b); got != 1 {
		t.Fatalf("Dropped = %d, want 1", got)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed")
	}
	b.Publish(Event{Type: "after"})
}
