package service

import "testing"

func TestNotifierDeliversToSubscribers(t *testing.T) {
	n := NewNotifier()
	var got []EventKind
	n.Subscribe(EventWentLive, func(e Event) { got = append(got, e.Kind) })
	n.Subscribe(EventWentLive, func(e Event) { got = append(got, e.Kind) })
	n.Subscribe(EventWentOffline, func(e Event) { t.Error("wrong kind delivered") })

	n.Publish(Event{Kind: EventWentLive})

	if len(got) != 2 {
		t.Fatalf("delivered %d times, want 2", len(got))
	}
}

func TestNotifierSurvivesPanickingHandler(t *testing.T) {
	n := NewNotifier()
	delivered := false
	n.Subscribe(EventChallengePushed, func(Event) { panic("boom") })
	n.Subscribe(EventChallengePushed, func(Event) { delivered = true })

	n.Publish(Event{Kind: EventChallengePushed})

	if !delivered {
		t.Fatal("handler after the panicking one never ran")
	}
}

func TestNilNotifierPublish(t *testing.T) {
	var n *Notifier
	n.Publish(Event{Kind: EventWentLive}) // must not panic
}
