package transport

import (
	"context"
	"log/slog"

	"github.com/basket/fleetview/internal/bus"
	"github.com/basket/fleetview/internal/entity"
	"github.com/basket/fleetview/internal/layout"
	"github.com/basket/fleetview/internal/telemetry"
)

// RunConsumer subscribes to mirror events and applies them: updates flow
// into the store, connectivity transitions into the connected flag, and
// entities get layout slots. The first full-state snapshot runs ring
// placement over the whole agent set; every later sighting goes through
// incremental placement so existing positions are never disturbed. Blocks
// until ctx is done; the subscription is always released on exit. eng,
// metrics, and logger may be nil.
func RunConsumer(ctx context.Context, b *bus.Bus, store *entity.Store, eng *layout.Engine, metrics *telemetry.Metrics, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	sub := b.Subscribe("mirror.")
	defer b.Unsubscribe(sub)

	// Flipped by the first layout action of any kind: once anything is
	// placed, later snapshots may only add, never recompute the ring.
	placed := false

	apply := func(u entity.Update) bool {
		if err := store.ApplyUpdate(u); err != nil {
			logger.Warn("update rejected", "error", err)
			return false
		}
		if metrics != nil {
			metrics.UpsertsApplied.Add(ctx, 1)
		}
		return true
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-sub.Ch():
			if !ok {
				return
			}
			switch payload := event.Payload.(type) {
			case bus.ConnectivityEvent:
				store.SetConnected(payload.Connected)

			case entity.Update:
				if !apply(payload) {
					continue
				}
				if eng != nil && payload.Agent != nil {
					eng.PlaceNew(payload.Agent.ID)
					placed = true
				}

			case []entity.Update:
				for _, u := range payload {
					apply(u)
				}
				if eng == nil {
					continue
				}
				if !placed {
					eng.Place(store.AgentIDs())
					placed = true
					continue
				}
				// A later snapshot (polling refresh) may carry agents
				// sighted for the first time.
				for _, u := range payload {
					if u.Agent != nil {
						eng.PlaceNew(u.Agent.ID)
					}
				}
			}
		}
	}
}
