package channel

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sunqar-kz/qoldau/internal/domain"
	"github.com/sunqar-kz/qoldau/internal/logging"
)

func testRegistry() *Registry {
	return NewRegistry(logging.New(io.Discard, "debug"))
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := testRegistry()
	assert.Zero(t, r.Count())

	lb := NewLoopback("tg")
	r.Register(lb)

	got, ok := r.Get("tg")
	require.True(t, ok)
	assert.Equal(t, lb, got)
	assert.Equal(t, []string{"tg"}, r.List())

	_, ok = r.Get("missing")
	assert.False(t, ok)
}

func TestRegistry_SendRoutesByChannelID(t *testing.T) {
	r := testRegistry()
	a := NewLoopback("a")
	b := NewLoopback("b")
	r.Register(a)
	r.Register(b)

	err := r.Send(context.Background(), domain.OutboundReply{ChannelID: "b", UserID: "u", Body: "hi"})
	require.NoError(t, err)
	assert.Empty(t, a.Sent())
	require.Len(t, b.Sent(), 1)
	assert.Equal(t, "hi", b.Sent()[0].Body)
}

func TestRegistry_SendUnknownChannel(t *testing.T) {
	r := testRegistry()
	err := r.Send(context.Background(), domain.OutboundReply{ChannelID: "nope"})
	assert.Error(t, err)
}

func TestRegistry_WireReachesAllChannels(t *testing.T) {
	r := testRegistry()
	early := NewLoopback("early")
	r.Register(early)

	var got []string
	r.Wire(func(evt domain.InboundEvent) {
		got = append(got, evt.ChannelID)
	})

	// Channels registered after wiring get the handler too.
	late := NewLoopback("late")
	r.Register(late)

	early.Inject(domain.InboundEvent{UserID: "u"})
	late.Inject(domain.InboundEvent{UserID: "u"})
	assert.Equal(t, []string{"early", "late"}, got)
}

func TestRegistry_Status(t *testing.T) {
	r := testRegistry()
	lb := NewLoopback("tg")
	r.Register(lb)

	statuses := r.Status()
	require.Len(t, statuses, 1)
	assert.Equal(t, "tg", statuses[0].ChannelID)
	assert.False(t, statuses[0].Running)
}

func TestRegistry_StartAndStopAll(t *testing.T) {
	r := testRegistry()
	lb := NewLoopback("tg")
	r.Register(lb)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, r.StartAll(ctx))
	require.Eventually(t, func() bool {
		return lb.Status().Running
	}, time.Second, 5*time.Millisecond)

	cancel()
	r.StopAll(context.Background())
	require.Eventually(t, func() bool {
		return !lb.Status().Running
	}, time.Second, 5*time.Millisecond)
}
