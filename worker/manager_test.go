package worker_test

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reglet-dev/minihost/dynamic"
	"github.com/reglet-dev/minihost/hosterr"
	"github.com/reglet-dev/minihost/loop"
	"github.com/reglet-dev/minihost/task"
	"github.com/reglet-dev/minihost/worker"
)

// echoWASM exports memory, allocate (always returning 1024) and
// on_message, which posts its input straight back.
var echoWASM = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
	0x01, 0x0a, 0x02, 0x60, 0x01, 0x7e, 0x00, 0x60, 0x01, 0x7f, 0x01, 0x7f,
	0x02, 0x14, 0x01, 0x03, 'e', 'n', 'v', 0x0c, 'p', 'o', 's', 't', '_', 'm', 'e', 's', 's', 'a', 'g', 'e', 0x00, 0x00,
	0x03, 0x03, 0x02, 0x01, 0x00,
	0x05, 0x03, 0x01, 0x00, 0x01,
	0x07, 0x22, 0x03,
	0x06, 'm', 'e', 'm', 'o', 'r', 'y', 0x02, 0x00,
	0x08, 'a', 'l', 'l', 'o', 'c', 'a', 't', 'e', 0x00, 0x01,
	0x0a, 'o', 'n', '_', 'm', 'e', 's', 's', 'a', 'g', 'e', 0x00, 0x02,
	0x0a, 0x0e, 0x02,
	0x05, 0x00, 0x41, 0x80, 0x08, 0x0b,
	0x06, 0x00, 0x20, 0x00, 0x10, 0x00, 0x0b,
}

var scripts = map[string][]byte{
	"workers/echo.js":   []byte(`worker.onMessage((msg) => worker.postMessage({ echo: msg.n * 2 }))`),
	"workers/throw.js":  []byte(`worker.onMessage(() => { throw new Error("bad message") })`),
	"workers/boom.js":   []byte(`throw new Error("top level")`),
	"workers/typed.ts":  []byte(`worker.onMessage((msg: { s: string }) => worker.postMessage({ up: msg.s.toUpperCase() }))`),
	"workers/echo.wasm": echoWASM,
}

func load(path string) ([]byte, error) {
	if src, ok := scripts[path]; ok {
		return src, nil
	}
	return nil, fmt.Errorf("open %s: %w", path, fs.ErrNotExist)
}

func newManager(t *testing.T) *worker.Manager {
	t.Helper()
	s := loop.NewSerial()
	s.Start()
	t.Cleanup(s.Stop)
	m := worker.NewManager(s, worker.WithLoader(load), worker.WithLogger(slog.New(slog.DiscardHandler)))
	t.Cleanup(m.Close)
	return m
}

func listen(w *worker.Worker, event string) <-chan dynamic.Value {
	ch := make(chan dynamic.Value, 4)
	w.On(event, "test", func(v dynamic.Value) { ch <- v })
	return ch
}

func next(t *testing.T, ch <-chan dynamic.Value) dynamic.Value {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for worker event")
		return dynamic.Null()
	}
}

func TestManager_JSWorkerEcho(t *testing.T) {
	m := newManager(t)
	w, err := m.Create(context.Background(), "workers/echo.js")
	require.NoError(t, err)
	assert.Equal(t, task.Running, w.State())

	msgs := listen(w, worker.EventMessage)
	require.NoError(t, w.PostMessage(dynamic.Object("n", 21)))

	got := next(t, msgs)
	n, _ := got.GetNumber("echo")
	assert.Equal(t, 42.0, n)
}

func TestManager_TypeScriptWorker(t *testing.T) {
	m := newManager(t)
	w, err := m.Create(context.Background(), "workers/typed.ts")
	require.NoError(t, err)

	msgs := listen(w, worker.EventMessage)
	require.NoError(t, w.PostMessage(dynamic.Object("s", "hi")))
	up, _ := next(t, msgs).GetString("up")
	assert.Equal(t, "HI", up)
}

func TestManager_WASMWorkerEcho(t *testing.T) {
	m := newManager(t)
	w, err := m.Create(context.Background(), "workers/echo.wasm")
	require.NoError(t, err)

	msgs := listen(w, worker.EventMessage)
	in := dynamic.Object("text", "ping", "list", dynamic.List(dynamic.Int(1), dynamic.Bool(true)))
	require.NoError(t, w.PostMessage(in))
	got := next(t, msgs)
	assert.True(t, in.Equal(got), "got %s", got)
}

func TestManager_SingleActiveWorker(t *testing.T) {
	m := newManager(t)
	w, err := m.Create(context.Background(), "workers/echo.js")
	require.NoError(t, err)

	_, err = m.Create(context.Background(), "workers/echo.js")
	assert.ErrorIs(t, err, hosterr.ErrWorkerActive)
	assert.Equal(t, hosterr.ClassHost, hosterr.ClassOf(err))

	require.NoError(t, w.Terminate())
	require.NoError(t, w.Terminate())
	assert.Nil(t, m.Active())
	assert.ErrorIs(t, w.PostMessage(dynamic.Object()), hosterr.ErrAlreadyTerminal)

	w2, err := m.Create(context.Background(), "workers/echo.js")
	require.NoError(t, err)
	assert.Same(t, w2, m.Active())
}

func TestManager_CreateFailuresFreeTheSlot(t *testing.T) {
	m := newManager(t)

	_, err := m.Create(context.Background(), "")
	assert.ErrorIs(t, err, hosterr.ErrContract)

	_, err = m.Create(context.Background(), "workers/missing.js")
	assert.ErrorIs(t, err, hosterr.ErrNotFound)
	assert.Nil(t, m.Active())

	_, err = m.Create(context.Background(), "workers/boom.js")
	require.Error(t, err)
	assert.Equal(t, hosterr.ClassHost, hosterr.ClassOf(err))
	assert.Nil(t, m.Active())

	_, err = m.Create(context.Background(), "workers/echo.js")
	assert.NoError(t, err)
}

func TestManager_WorkerExceptionEmitsError(t *testing.T) {
	m := newManager(t)
	w, err := m.Create(context.Background(), "workers/throw.js")
	require.NoError(t, err)

	errs := listen(w, worker.EventError)
	require.NoError(t, w.PostMessage(dynamic.Object()))
	msg, _ := next(t, errs).GetString("errMsg")
	assert.Contains(t, msg, "bad message")
	assert.Equal(t, task.Running, w.State())
}

type recordingRunner struct {
	sink      worker.Sink
	delivered []dynamic.Value
	closed    bool
}

func (r *recordingRunner) Start(_ context.Context, _ string, _ []byte, sink worker.Sink) error {
	r.sink = sink
	return nil
}

func (r *recordingRunner) Deliver(msg dynamic.Value) { r.delivered = append(r.delivered, msg) }

func (r *recordingRunner) Close(context.Context) error {
	r.closed = true
	return nil
}

func TestManager_RunnerFactory(t *testing.T) {
	s := loop.NewSerial()
	s.Start()
	defer s.Stop()

	r := &recordingRunner{}
	m := worker.NewManager(s,
		worker.WithLoader(load),
		worker.WithRunnerFactory(func(string, worker.Options) worker.Runner { return r }),
	)
	w, err := m.Create(context.Background(), "workers/echo.js")
	require.NoError(t, err)

	require.NoError(t, w.PostMessage(dynamic.Object("k", "v")))
	require.Len(t, r.delivered, 1)
	k, _ := r.delivered[0].GetString("k")
	assert.Equal(t, "v", k)

	require.NoError(t, w.Terminate())
	assert.True(t, r.closed)
}
