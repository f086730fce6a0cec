package task_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reglet-dev/minihost/dynamic"
	"github.com/reglet-dev/minihost/hosterr"
	"github.com/reglet-dev/minihost/loop"
	"github.com/reglet-dev/minihost/task"
)

func settle(t *testing.T, h *task.Handle, to task.State) {
	t.Helper()
	switch to {
	case task.Completed:
		require.NoError(t, h.Complete())
	case task.Aborted:
		require.NoError(t, h.Abort())
	case task.Errored:
		require.NoError(t, h.Fail(hosterr.Host(hosterr.CodeNetwork, "reset")))
	}
}

func TestHandle_TerminalStatesAreSticky(t *testing.T) {
	for _, terminal := range []task.State{task.Completed, task.Aborted, task.Errored} {
		t.Run(string(terminal), func(t *testing.T) {
			m := loop.NewManual()
			settles := 0
			h := task.New("DownloadTask", m)
			h.OnSettle(func(task.State, error) { settles++ })
			require.NoError(t, h.Start())
			settle(t, h, terminal)

			controls := map[string]func() error{
				"abort":    h.Abort,
				"pause":    h.Pause,
				"resume":   h.Resume,
				"complete": h.Complete,
				"start":    h.Start,
				"fail":     func() error { return h.Fail(nil) },
			}
			for name, control := range controls {
				err := control()
				assert.ErrorIs(t, err, hosterr.ErrInvalidState, name)
				assert.ErrorIs(t, err, hosterr.ErrAlreadyTerminal, name)
				assert.Equal(t, terminal, h.State(), name)
			}
			assert.Equal(t, 1, settles)

			select {
			case <-h.Done():
			default:
				t.Fatal("done channel not closed")
			}
		})
	}
}

func TestHandle_IllegalControlIsInvalidState(t *testing.T) {
	h := task.New("InnerAudioContext", loop.NewManual())

	err := h.Resume()
	assert.ErrorIs(t, err, hosterr.ErrInvalidState)
	assert.NotErrorIs(t, err, hosterr.ErrAlreadyTerminal)
	assert.Equal(t, task.Pending, h.State())

	require.NoError(t, h.Start())
	require.NoError(t, h.Pause())
	assert.ErrorIs(t, h.Pause(), hosterr.ErrInvalidState)
	require.NoError(t, h.Resume())
	assert.Equal(t, task.Running, h.State())
}

func TestHandle_OneShotTableRejectsPause(t *testing.T) {
	h := task.New("RequestTask", loop.NewManual(), task.WithTable(task.OneShotTable))
	require.NoError(t, h.Start())
	assert.ErrorIs(t, h.Pause(), hosterr.ErrInvalidState)
	assert.Equal(t, task.Running, h.State())
}

func TestHandle_AbortRunsHooksOnce(t *testing.T) {
	aborted := 0
	h := task.New("RequestTask", loop.NewManual(), task.WithAbortHook(func() { aborted++ }))
	require.NoError(t, h.Start())

	require.NoError(t, h.Abort())
	assert.ErrorIs(t, h.Abort(), hosterr.ErrAlreadyTerminal)
	assert.Equal(t, 1, aborted)
	assert.ErrorIs(t, h.Err(), hosterr.ErrAborted)
}

func TestHandle_CompleteDoesNotRunAbortHooks(t *testing.T) {
	aborted := false
	h := task.New("UploadTask", loop.NewManual(), task.WithAbortHook(func() { aborted = true }))
	require.NoError(t, h.Complete())
	assert.False(t, aborted)
}

func TestHandle_EventsScopedAndClearedAtSettle(t *testing.T) {
	m := loop.NewManual()
	h := task.New("DownloadTask", m)
	var progress []float64
	h.On("progressUpdate", "cb", func(v dynamic.Value) {
		p, _ := v.GetNumber("progress")
		progress = append(progress, p)
	})

	require.NoError(t, h.Start())
	h.Emit("progressUpdate", dynamic.Object("progress", 50))
	h.Emit("progressUpdate", dynamic.Object("progress", 100))
	require.NoError(t, h.Complete())
	assert.Zero(t, h.Emit("progressUpdate", dynamic.Object("progress", 101)))

	m.Drain()
	assert.Equal(t, []float64{50, 100}, progress, "events emitted before settlement are delivered")
	assert.Zero(t, h.Listeners("progressUpdate"))
}

func TestHandle_OnSettleAfterTerminal(t *testing.T) {
	m := loop.NewManual()
	h := task.New("SocketTask", m)
	require.NoError(t, h.Fail(hosterr.Host(hosterr.CodeNetwork, "closed")))

	var got task.State
	h.OnSettle(func(s task.State, err error) {
		got = s
		assert.ErrorIs(t, err, hosterr.ErrNetwork)
	})
	assert.Empty(t, got)
	m.Drain()
	assert.Equal(t, task.Errored, got)
}

func TestHandle_ID(t *testing.T) {
	a := task.New("RequestTask", loop.NewManual())
	b := task.New("RequestTask", loop.NewManual())
	assert.NotEqual(t, a.ID(), b.ID())
	_, err := uuid.Parse(a.ID())
	assert.NoError(t, err)
}
