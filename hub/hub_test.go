package hub

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/parishdesk/parishdesk/model"
)

func bufferedWire() model.Wire {
	return model.Wire{TX: make(chan model.Envelope, 1)}
}

func TestBroadcastFanOut(t *testing.T) {
	t.Parallel()

	logger := zerolog.Nop()
	h := New(&logger)

	first := bufferedWire()
	second := bufferedWire()
	other := bufferedWire()
	h.Register("groups", "sub-1", first)
	h.Register("groups", "sub-2", second)
	h.Register("members", "sub-3", other)

	env := model.Envelope{Type: "groups_deleted", ID: "g1"}
	require.NoError(t, h.Broadcast(context.Background(), "groups", env))

	require.Equal(t, env, <-first.TX)
	require.Equal(t, env, <-second.TX)
	select {
	case got := <-other.TX:
		t.Fatalf("envelope %q leaked to another resource", got.Type)
	default:
	}
}

func TestUnregisterStopsDelivery(t *testing.T) {
	t.Parallel()

	logger := zerolog.Nop()
	h := New(&logger)

	wire := bufferedWire()
	h.Register("groups", "sub-1", wire)
	h.Unregister("groups", "sub-1")

	require.NoError(t, h.Broadcast(context.Background(), "groups",
		model.Envelope{Type: "groups_created"}))

	select {
	case <-wire.TX:
		t.Fatal("unregistered subscriber received an envelope")
	default:
	}
}

func TestUnregisterUnknownSubscriber(t *testing.T) {
	t.Parallel()

	logger := zerolog.Nop()
	h := New(&logger)
	require.NotPanics(t, func() {
		h.Unregister("groups", "nope")
	})
}

func TestBroadcastSkipsDeadSubscriber(t *testing.T) {
	t.Parallel()

	logger := zerolog.Nop()
	h := New(&logger)

	dead := model.NewWire() // nobody drains it
	live := bufferedWire()
	h.Register("groups", "dead", dead)
	h.Register("groups", "live", live)

	done := make(chan struct{})
	go func() {
		_ = h.Broadcast(context.Background(), "groups", model.Envelope{Type: "ping"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("broadcast stuck on dead subscriber")
	}
	require.Len(t, live.TX, 1)
}

func TestBroadcastCanceledContext(t *testing.T) {
	t.Parallel()

	logger := zerolog.Nop()
	h := New(&logger)

	h.Register("groups", "dead", model.NewWire())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	require.NoError(t, h.Broadcast(ctx, "groups", model.Envelope{Type: "ping"}))
	require.Less(t, time.Since(start), time.Second)
}
