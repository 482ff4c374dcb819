package hub

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/parishdesk/parishdesk/metrics"
	"github.com/parishdesk/parishdesk/model"
)

const (
	defaultFanoutTimeout = time.Second
)

// Hub fans change envelopes out to event-stream subscribers, keyed by
// resource type. Each subscriber owns a wire whose TX channel is drained
// by its websocket sender loop.
type Hub struct {
	logger zerolog.Logger
	mx     *sync.RWMutex
	subs   map[string]map[string]model.Wire
}

func New(logger *zerolog.Logger) *Hub {
	return &Hub{
		logger: logger.With().Str("component", "hub").Logger(),
		mx:     &sync.RWMutex{},
		subs:   make(map[string]map[string]model.Wire),
	}
}

func (h *Hub) Register(resource, subID string, wire model.Wire) {
	h.mx.Lock()
	defer func() {
		h.mx.Unlock()
		h.logger.Debug().
			Str("resource", resource).
			Str("subscriber", subID).
			Msg("subscriber registered")
	}()

	res, ok := h.subs[resource]
	if !ok {
		res = make(map[string]model.Wire)
	}
	res[subID] = wire
	h.subs[resource] = res
}

func (h *Hub) Unregister(resource, subID string) {
	h.mx.Lock()
	defer func() {
		h.mx.Unlock()
		h.logger.Debug().
			Str("resource", resource).
			Str("subscriber", subID).
			Msg("subscriber unregistered")
	}()

	if res, ok := h.subs[resource]; ok {
		delete(res, subID)
		h.subs[resource] = res
	}
}

// Broadcast delivers env to every subscriber of resource. Dead subscribers
// that fail to take the envelope within the fanout timeout are skipped.
func (h *Hub) Broadcast(ctx context.Context, resource string, env model.Envelope) error {
	h.mx.RLock()
	wires := make([]model.Wire, 0, len(h.subs[resource]))
	for _, wire := range h.subs[resource] {
		wires = append(wires, wire)
	}
	h.mx.RUnlock()

	logger := h.logger.With().
		Str("resource", resource).
		Str("type", env.Type).Logger()

	var sent int
	for _, wire := range wires {
		ok, canceled := send(ctx, env, wire.TX, &logger)
		if canceled {
			break
		}
		if ok {
			sent++
		}
	}
	if sent == 0 {
		logger.Debug().Msg("broadcast did not reach anyone")
	}
	metrics.EventsBroadcast.WithLabelValues(resource, env.Type).Add(float64(sent))
	return nil
}

func send(ctx context.Context, env model.Envelope, tx chan<- model.Envelope, logger *zerolog.Logger) (bool, bool) {
	var sent, canceled bool
	tCh := time.NewTimer(defaultFanoutTimeout)
	select {
	case <-ctx.Done():
		canceled = true
	case <-tCh.C:
		logger.Error().Msg("dead subscriber")
	case tx <- env:
		sent = true
	}
	tCh.Stop()
	return sent, canceled
}
