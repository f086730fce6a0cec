package events_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reglet-dev/minihost/dynamic"
	"github.com/reglet-dev/minihost/events"
	"github.com/reglet-dev/minihost/loop"
)

func TestLedger_IdempotentOnSingleOffClears(t *testing.T) {
	m := loop.NewManual()
	l := events.NewLedger(m)
	calls := 0
	fn := func(dynamic.Value) { calls++ }

	assert.True(t, l.On("networkStatusChange", "cb1", fn))
	assert.False(t, l.On("networkStatusChange", "cb1", fn))
	assert.Equal(t, 1, l.Count("networkStatusChange"))

	l.Emit("networkStatusChange", dynamic.Null())
	m.Drain()
	assert.Equal(t, 1, calls, "double registration must not double delivery")

	assert.True(t, l.Off("networkStatusChange", "cb1"))
	assert.Zero(t, l.Count("networkStatusChange"))
	assert.Equal(t, events.Unwatched, l.State("networkStatusChange"))
}

func TestLedger_OffUnknownIsNoop(t *testing.T) {
	l := events.NewLedger(loop.NewManual())
	assert.False(t, l.Off("show", "never"))
	assert.Zero(t, l.OffAll("show"))
}

func TestLedger_FuncAndUncomparableIDs(t *testing.T) {
	m := loop.NewManual()
	l := events.NewLedger(m)
	calls := 0
	fn := func(dynamic.Value) { calls++ }

	require.NotPanics(t, func() {
		assert.True(t, l.On("show", fn, fn))
		assert.False(t, l.On("show", fn, fn), "the same func registers once")
	})
	assert.Equal(t, 1, l.Count("show"))

	bad := []string{"not", "comparable"}
	require.NotPanics(t, func() {
		assert.False(t, l.On("show", bad, fn))
		assert.False(t, l.Off("show", bad))
	})
	_, ok := events.NormalizeID(bad)
	assert.False(t, ok)

	assert.True(t, l.Off("show", fn))
	assert.Zero(t, l.Count("show"))
}

func TestLedger_StateMachine(t *testing.T) {
	l := events.NewLedger(loop.NewManual())
	noop := func(dynamic.Value) {}

	assert.Equal(t, events.Unwatched, l.State("hide"))
	l.On("hide", 1, noop)
	assert.Equal(t, events.Watched, l.State("hide"))
	l.On("hide", 2, noop)
	l.Off("hide", 1)
	assert.True(t, l.Watched("hide"))
	l.Off("hide", 2)
	assert.False(t, l.Watched("hide"))
}

func TestLedger_RegistrationOrder(t *testing.T) {
	m := loop.NewManual()
	l := events.NewLedger(m)
	var order []string

	for _, id := range []string{"a", "b", "c"} {
		l.On("show", id, func(dynamic.Value) { order = append(order, id) })
	}
	l.Off("show", "b")
	l.On("show", "b", func(dynamic.Value) { order = append(order, "b") })

	assert.Equal(t, 3, l.Emit("show", dynamic.Null()))
	assert.Empty(t, order)
	m.Drain()
	assert.Equal(t, []string{"a", "c", "b"}, order)
}

func TestLedger_OffDropsQueuedDelivery(t *testing.T) {
	m := loop.NewManual()
	l := events.NewLedger(m)
	called := false
	l.On("error", "x", func(dynamic.Value) { called = true })

	l.Emit("error", dynamic.String("boom"))
	l.Off("error", "x")
	m.Drain()
	assert.False(t, called)
}

func TestLedger_Subscribe(t *testing.T) {
	m := loop.NewManual()
	l := events.NewLedger(m)
	var got []string

	unsubA := l.Subscribe("message", func(v dynamic.Value) { s, _ := v.AsString(); got = append(got, "a:"+s) })
	l.Subscribe("message", func(v dynamic.Value) { s, _ := v.AsString(); got = append(got, "b:"+s) })

	l.Emit("message", dynamic.String("1"))
	m.Drain()
	unsubA()
	unsubA()
	l.Emit("message", dynamic.String("2"))
	m.Drain()

	assert.Equal(t, []string{"a:1", "b:1", "b:2"}, got)
}

func TestLedger_Clear(t *testing.T) {
	l := events.NewLedger(loop.NewManual())
	l.On("show", 1, func(dynamic.Value) {})
	l.On("hide", 1, func(dynamic.Value) {})
	require.Equal(t, []string{"hide", "show"}, l.Events())

	l.Clear()
	assert.Empty(t, l.Events())
}

func TestPoller_IndependentOfListeners(t *testing.T) {
	m := loop.NewManual()
	l := events.NewLedger(m)
	samples := 0
	p := events.NewPoller(l, m, "accelerometerChange", func() (dynamic.Value, bool) {
		samples++
		return dynamic.Object("x", samples), true
	})

	var got []float64
	l.On("accelerometerChange", "cb", func(v dynamic.Value) {
		x, _ := v.GetNumber("x")
		got = append(got, x)
	})

	m.Advance(time.Second)
	assert.Empty(t, got, "listeners receive nothing while polling is stopped")

	p.Start(200 * time.Millisecond)
	m.Advance(450 * time.Millisecond)
	assert.Equal(t, []float64{1, 2}, got)

	p.Stop()
	assert.True(t, l.Watched("accelerometerChange"), "stop must not clear listeners")
	m.Advance(time.Second)
	assert.Equal(t, []float64{1, 2}, got)
}

func TestPoller_NoDeliveryAfterStopReturns(t *testing.T) {
	m := loop.NewManual()
	l := events.NewLedger(m)
	p := events.NewPoller(l, m, "compassChange", func() (dynamic.Value, bool) {
		return dynamic.Object("direction", 90), true
	})

	delivered := 0
	l.On("compassChange", "cb", func(dynamic.Value) { delivered++ })

	p.Start(20 * time.Millisecond)
	m.Advance(20 * time.Millisecond)
	require.Equal(t, 1, delivered)

	p.Stop()
	m.Advance(time.Second)
	assert.Equal(t, 1, delivered)
	assert.False(t, p.Running())
}

func TestPoller_StopDropsQueuedReadings(t *testing.T) {
	m := loop.NewManual()
	l := events.NewLedger(m)
	p := events.NewPoller(l, m, "compassChange", func() (dynamic.Value, bool) {
		return dynamic.Object("direction", 90), true
	})

	// The first listener stops polling while the second listener's
	// delivery of the same reading is still queued.
	l.On("compassChange", "stopper", func(dynamic.Value) { p.Stop() })
	delivered := 0
	l.On("compassChange", "cb", func(dynamic.Value) { delivered++ })

	p.Start(20 * time.Millisecond)
	m.Advance(time.Second)
	assert.Zero(t, delivered)
	assert.Equal(t, 2, l.Count("compassChange"))
}

func TestPoller_RestartChangesInterval(t *testing.T) {
	m := loop.NewManual()
	l := events.NewLedger(m)
	p := events.NewPoller(l, m, "gyroscopeChange", func() (dynamic.Value, bool) {
		return dynamic.Null(), true
	})
	ticks := 0
	l.On("gyroscopeChange", "cb", func(dynamic.Value) { ticks++ })

	p.Start(200 * time.Millisecond)
	p.Start(20 * time.Millisecond)
	assert.Equal(t, 20*time.Millisecond, p.Interval())

	m.Advance(100 * time.Millisecond)
	assert.Equal(t, 5, ticks)
}
