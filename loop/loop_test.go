package loop_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/dop251/goja"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reglet-dev/minihost/loop"
)

func TestManual_PostIsNeverInline(t *testing.T) {
	m := loop.NewManual()
	var order []string

	m.Post(func() {
		order = append(order, "a")
		m.Post(func() { order = append(order, "c") })
	})
	m.Post(func() { order = append(order, "b") })
	assert.Empty(t, order)

	assert.Equal(t, 3, m.Drain())
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestManual_TimersFireInDeadlineOrder(t *testing.T) {
	m := loop.NewManual()
	var order []string

	m.AfterFunc(30*time.Millisecond, func() { order = append(order, "30") })
	m.AfterFunc(10*time.Millisecond, func() { order = append(order, "10a") })
	m.AfterFunc(10*time.Millisecond, func() { order = append(order, "10b") })
	cancel := m.AfterFunc(20*time.Millisecond, func() { order = append(order, "20") })
	cancel()
	cancel()

	m.Advance(15 * time.Millisecond)
	assert.Equal(t, []string{"10a", "10b"}, order)

	m.Advance(15 * time.Millisecond)
	assert.Equal(t, []string{"10a", "10b", "30"}, order)

	turns, timers := m.Pending()
	assert.Zero(t, turns)
	assert.Zero(t, timers)
}

func TestTimers_ClearIsIdempotent(t *testing.T) {
	m := loop.NewManual()
	timers := loop.NewTimers(m)
	fired := 0

	id := timers.SetTimeout(func() { fired++ }, 50*time.Millisecond)
	timers.ClearTimeout(id)
	timers.ClearTimeout(id)
	timers.ClearTimeout(9999)

	m.Advance(time.Second)
	assert.Zero(t, fired)

	id = timers.SetTimeout(func() { fired++ }, 0)
	m.Advance(0)
	assert.Equal(t, 1, fired)
	timers.ClearTimeout(id)
	assert.Zero(t, timers.Active())
}

func TestTimers_Interval(t *testing.T) {
	m := loop.NewManual()
	timers := loop.NewTimers(m)
	ticks := 0

	var id int
	id = timers.SetInterval(func() {
		ticks++
		if ticks == 3 {
			timers.ClearInterval(id)
		}
	}, 100*time.Millisecond)

	m.Advance(250 * time.Millisecond)
	assert.Equal(t, 2, ticks)

	m.Advance(time.Second)
	assert.Equal(t, 3, ticks)
	assert.Zero(t, timers.Active())
}

func TestTimers_SharedIDSpace(t *testing.T) {
	m := loop.NewManual()
	timers := loop.NewTimers(m)
	ticks := 0

	id := timers.SetInterval(func() { ticks++ }, 10*time.Millisecond)
	timers.ClearTimeout(id)
	m.Advance(100 * time.Millisecond)
	assert.Zero(t, ticks)
}

func TestTimers_AnimationFrame(t *testing.T) {
	m := loop.NewManual()
	timers := loop.NewTimers(m)

	var got float64
	timers.RequestAnimationFrame(func(ms float64) { got = ms })
	cancelled := timers.RequestAnimationFrame(func(float64) { t.Fatal("cancelled frame fired") })
	timers.CancelAnimationFrame(cancelled)

	m.Advance(loop.FrameInterval)
	assert.Equal(t, float64(16), got)
}

func TestTimers_ClearAll(t *testing.T) {
	m := loop.NewManual()
	timers := loop.NewTimers(m)
	timers.SetTimeout(func() { t.Fatal("fired") }, time.Millisecond)
	timers.SetInterval(func() { t.Fatal("fired") }, time.Millisecond)

	timers.ClearAll()
	m.Advance(time.Second)
	assert.Zero(t, timers.Active())
}

func TestSerial_RunsInOrder(t *testing.T) {
	s := loop.NewSerial()
	s.Start()
	defer s.Stop()

	var order []int
	for i := range 5 {
		s.Post(func() { order = append(order, i) })
	}
	s.Call(func() {})
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestSerial_CancelledTimerDoesNotFire(t *testing.T) {
	s := loop.NewSerial()
	s.Start()
	defer s.Stop()

	var fired atomic.Bool
	cancel := s.AfterFunc(20*time.Millisecond, func() { fired.Store(true) })
	cancel()
	cancel()

	time.Sleep(50 * time.Millisecond)
	s.Call(func() {})
	assert.False(t, fired.Load())
}

func TestSerial_RecoversPanics(t *testing.T) {
	var recovered atomic.Value
	s := loop.NewSerial(loop.WithPanicHandler(func(r any) { recovered.Store(r) }))
	s.Start()
	defer s.Stop()

	s.Post(func() { panic("boom") })
	ran := false
	s.Call(func() { ran = true })

	require.True(t, ran)
	assert.Equal(t, "boom", recovered.Load())
}

func TestEventLoop_PostAndTimer(t *testing.T) {
	l := loop.NewEventLoop()
	done := make(chan []string, 1)

	var order []string
	l.Run(func(_ *goja.Runtime) {
		l.Post(func() { order = append(order, "post") })
		cancel := l.AfterFunc(time.Millisecond, func() { order = append(order, "never") })
		cancel()
		l.AfterFunc(time.Millisecond, func() {
			order = append(order, "timer")
			done <- order
		})
	})

	select {
	case got := <-done:
		assert.Equal(t, []string{"post", "timer"}, got)
	case <-time.After(time.Second):
		t.Fatal("event loop did not run timer")
	}
}
