package gateway

import (
	"context"
	"encoding/json"

	"github.com/omnisonic/coda/internal/events"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// TypeExportProgress frames job progress updates relayed from the export
// pipeline. To room peers it is just another opaque application message.
const TypeExportProgress = "export.progress"

// Relay feeds bus events into room broadcasts. The export worker reports
// progress on the bus; connected clients see it without polling.
type Relay struct {
	hub *Hub
	bus events.Bus
	log *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

type exportProgressEvent struct {
	JobID        string `json:"jobId"`
	RoomID       string `json:"roomId"`
	Status       string `json:"status"`
	Progress     int    `json:"progress"`
	FileURL      string `json:"fileUrl,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

func NewRelay(hub *Hub, bus events.Bus, log *zap.Logger) *Relay {
	return &Relay{hub: hub, bus: bus, log: log.Named("gateway.relay")}
}

// Start subscribes to the export progress firehose and relays until Stop.
func (r *Relay) Start(ctx context.Context) error {
	sub, err := r.bus.Subscribe(ctx, events.TopicExportProgressAll)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})

	go func() {
		defer close(r.done)
		defer sub.Close()
		for {
			select {
			case raw, ok := <-sub.Messages():
				if !ok {
					return
				}
				r.relay(raw)
			case <-runCtx.Done():
				return
			}
		}
	}()
	return nil
}

func (r *Relay) Stop(ctx context.Context) error {
	if r.cancel == nil {
		return nil
	}
	r.cancel()
	select {
	case <-r.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (r *Relay) relay(raw []byte) {
	var event exportProgressEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		r.log.Warn("dropping unreadable export progress event", zap.Error(err))
		return
	}
	if event.RoomID == "" {
		return
	}
	r.hub.broadcast(event.RoomID, mustEnvelope(TypeExportProgress, "", json.RawMessage(raw)), nil)
}

// Module provides the hub, the gateway, and the bus relay.
var Module = fx.Module("gateway",
	fx.Provide(
		NewHub,
		New,
		NewRelay,
	),
	fx.Invoke(registerRelay),
)

func registerRelay(lc fx.Lifecycle, relay *Relay) {
	lc.Append(fx.Hook{
		OnStart: relay.Start,
		OnStop:  relay.Stop,
	})
}
