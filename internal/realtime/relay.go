package realtime

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/dgnsrekt/realtime-sync/internal/bus"
	"github.com/dgnsrekt/realtime-sync/internal/model"
)

// Bus message types.
const (
	MessageEvents = "realtime:events"
	MessageStatus = "realtime:status"
)

// ingest runs events through deduplication, the reconciler and the
// dispatcher, and returns the ones applied for the first time.
func (e *Engine) ingest(ctx context.Context, events []model.Event) []model.Event {
	fresh := e.dedup.FilterNew(events)
	if dropped := len(events) - len(fresh); dropped > 0 {
		e.metrics.DuplicatesDropped(dropped)
	}

	creds := e.credentials()
	for _, ev := range fresh {
		outcome := e.reconciler.Apply(ev)
		e.metrics.EventApplied(ev.Type, string(outcome))
		e.dispatcher.Dispatch(ctx, ev, creds)
		e.logger.Debug("event applied", zap.Stringer("event", ev), zap.String("outcome", string(outcome)))
	}
	return fresh
}

// OnMessage handles a message from another tab.
func (e *Engine) OnMessage(msg bus.Message) {
	if msg.SenderID == e.tabID {
		return
	}
	if !e.credentials().Authenticated() {
		return
	}

	switch msg.Type {
	case MessageEvents:
		var events []model.Event
		if err := json.Unmarshal(msg.Payload, &events); err != nil {
			e.logger.Debug("dropping malformed relay", zap.String("sender", msg.SenderID), zap.Error(err))
			return
		}
		e.ingest(e.baseContext(), events)

	case MessageStatus:
		if e.IsLeader() {
			return
		}
		var status Status
		if err := json.Unmarshal(msg.Payload, &status); err != nil || !status.Valid() {
			return
		}
		e.setStatus(status)
	}
}

func (e *Engine) relayEvents(ctx context.Context, events []model.Event) {
	if !e.active(ctx) {
		return
	}
	payload, err := json.Marshal(events)
	if err != nil {
		e.logger.Warn("encoding relay failed", zap.Error(err))
		return
	}
	e.publish(bus.Message{Type: MessageEvents, Payload: payload, SenderID: e.tabID})
}

func (e *Engine) relayStatus(s Status) {
	payload, _ := json.Marshal(s)
	e.publish(bus.Message{Type: MessageStatus, Payload: payload, SenderID: e.tabID})
}

func (e *Engine) publish(msg bus.Message) {
	if err := e.bus.Publish(msg); err != nil {
		e.logger.Debug("bus publish failed", zap.String("type", msg.Type), zap.Error(err))
	}
}
