package service

import (
	"log/slog"
	"sync"
	"time"

	"github.com/push21/challengebot/internal/domain"
)

type EventKind string

const (
	EventChallengeSubmitted EventKind = "challenge_submitted"
	EventChallengePushed    EventKind = "challenge_pushed"
	EventChallengeDugOut    EventKind = "challenge_dug_out"
	EventChallengeRemoved   EventKind = "challenge_removed"
	EventChallengeExecuted  EventKind = "challenge_executed"
	EventChallengeCompleted EventKind = "challenge_completed"
	EventSessionTicked      EventKind = "session_ticked"
	EventGMOverride         EventKind = "gm_override"
	EventWentLive           EventKind = "went_live"
	EventWentOffline        EventKind = "went_offline"
)

// Event is published after a successful mutation. Challenge may be nil for
// clock events.
type Event struct {
	Kind      EventKind
	Challenge *domain.Challenge
	UserID    int64
	Amount    int64
	At        time.Time
}

type EventHandler func(Event)

// Notifier fans events out to registered handlers. Delivery is synchronous,
// best-effort and fire-and-forget: a panicking handler is logged and the
// remaining handlers still run.
type Notifier struct {
	mu       sync.RWMutex
	handlers map[EventKind][]EventHandler
}

func NewNotifier() *Notifier {
	return &Notifier{handlers: make(map[EventKind][]EventHandler)}
}

func (n *Notifier) Subscribe(kind EventKind, h EventHandler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers[kind] = append(n.handlers[kind], h)
}

func (n *Notifier) Publish(e Event) {
	if n == nil {
		return
	}
	n.mu.RLock()
	handlers := n.handlers[e.Kind]
	n.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("event handler panicked", "kind", e.Kind, "panic", r)
				}
			}()
			h(e)
		}()
	}
}
