package events

import (
	"context"
	"log/slog"
	"time"
)

// Firer fires an event on the Home Assistant event bus.
type Firer interface {
	FireEvent(ctx context.Context, eventType string, data map[string]any) error
}

// HomeAssistantEvent maps a bus event kind to the Home Assistant event
// type it is forwarded as. Kinds without an entry stay local.
var HomeAssistantEvent = map[string]string{
	KindAutomationCreated:   "nag_automation_generated",
	KindAutomationPreviewed: "nag_automation_previewed",
	KindEntitiesListed:      "nag_entities_listed",
	KindCancelled:           "nag_conversation_cancelled",
}

const fireTimeout = 10 * time.Second

// Forward copies forwardable events from the bus to Home Assistant until
// ctx is done. Fire failures are logged and do not stop forwarding.
func Forward(ctx context.Context, b *Bus, f Firer, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	ch := b.Subscribe(64)
	defer b.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			eventType, forward := HomeAssistantEvent[e.Kind]
			if !forward {
				continue
			}
			data := make(map[string]any, len(e.Data)+1)
			for k, v := range e.Data {
				data[k] = v
			}
			data["source"] = e.Source

			fireCtx, cancel := context.WithTimeout(ctx, fireTimeout)
			err := f.FireEvent(fireCtx, eventType, data)
			cancel()
			if err != nil {
				logger.Warn("failed to fire home assistant event",
					"event_type", eventType, "error", err)
				continue
			}
			logger.Debug("fired home assistant event", "event_type", eventType)
		}
	}
}
