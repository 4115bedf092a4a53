package broadcast

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/pscheid92/racecontrol/internal/domain"
)

// Broadcaster is the part of the Hub the Announcer needs.
type Broadcaster interface {
	Broadcast(msg string)
}

// Announcer dispatches lifecycle events asynchronously. Announce returns
// before any subscriber is contacted.
type Announcer struct {
	hub Broadcaster
	wg  sync.WaitGroup
}

var _ domain.Announcer = (*Announcer)(nil)

func NewAnnouncer(hub Broadcaster) *Announcer {
	return &Announcer{hub: hub}
}

func (a *Announcer) Announce(event domain.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		slog.Error("failed to encode lifecycle event", "type", event.Type, "error", err)
		return
	}

	a.wg.Go(func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic while broadcasting lifecycle event", "type", event.Type, "panic", r)
			}
		}()
		a.hub.Broadcast(string(payload))
	})
}

// Wait blocks until every dispatched announcement has finished.
func (a *Announcer) Wait() {
	a.wg.Wait()
}

// Drain is Wait bounded by ctx.
func (a *Announcer) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
