package callback_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reglet-dev/minihost/callback"
	"github.com/reglet-dev/minihost/dynamic"
	"github.com/reglet-dev/minihost/hosterr"
	"github.com/reglet-dev/minihost/loop"
)

func recorder(log *[]string) callback.Callbacks {
	return callback.Callbacks{
		OnSuccess:  func(dynamic.Value) { *log = append(*log, "success") },
		OnFailure:  func(*hosterr.Error) { *log = append(*log, "fail") },
		OnComplete: func(callback.Outcome) { *log = append(*log, "complete") },
	}
}

func TestDeliver_ExactlyOneThenComplete(t *testing.T) {
	tests := []struct {
		name    string
		outcome callback.Outcome
		want    []string
	}{
		{name: "success", outcome: callback.Success(dynamic.Int(1)), want: []string{"success", "complete"}},
		{name: "failure", outcome: callback.Failure(hosterr.Host(hosterr.CodeNetwork, "unreachable")), want: []string{"fail", "complete"}},
		{name: "nil failure", outcome: callback.Failure(nil), want: []string{"fail", "complete"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := loop.NewManual()
			var log []string
			callback.Deliver(m, recorder(&log), tt.outcome)

			assert.Empty(t, log, "delivery must not run inline")
			m.Drain()
			assert.Equal(t, tt.want, log)
		})
	}
}

func TestDispatch_CompleteRunsWhenSuccessPanics(t *testing.T) {
	var completed bool
	cb := callback.Callbacks{
		OnSuccess:  func(dynamic.Value) { panic("guest bug") },
		OnComplete: func(callback.Outcome) { completed = true },
	}

	assert.PanicsWithValue(t, "guest bug", func() {
		callback.Dispatch(cb, callback.Success(dynamic.Null()))
	})
	assert.True(t, completed)
}

func TestFuture_SettlesOnce(t *testing.T) {
	m := loop.NewManual()
	f := callback.NewFuture(m)

	var log []string
	f.Attach(recorder(&log))

	assert.True(t, f.Resolve(dynamic.String("first")))
	assert.False(t, f.Reject(hosterr.Host(hosterr.CodeNetwork, "late")))
	assert.False(t, f.Resolve(dynamic.String("second")))

	m.Drain()
	assert.Equal(t, []string{"success", "complete"}, log)

	o, ok := f.Outcome()
	require.True(t, ok)
	assert.True(t, o.Value().Equal(dynamic.String("first")))
}

func TestFuture_ThenAfterSettleStillAsync(t *testing.T) {
	m := loop.NewManual()
	f := callback.Resolved(m, callback.Success(dynamic.Int(7)))

	var got dynamic.Value
	f.Then(func(o callback.Outcome) { got = o.Value() })
	assert.True(t, got.IsNull())

	m.Drain()
	assert.True(t, got.Equal(dynamic.Int(7)))
}

func TestFuture_Wait(t *testing.T) {
	m := loop.NewManual()
	f := callback.NewFuture(m)

	go func() {
		time.Sleep(5 * time.Millisecond)
		f.Reject(hosterr.Host(hosterr.CodeTimeout, "timed out"))
	}()

	o, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.ErrorIs(t, o.Err(), hosterr.ErrTimeout)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = callback.NewFuture(m).Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOutcome_Response(t *testing.T) {
	ok := callback.Success(dynamic.Object("data", 100)).Response("getStorage")
	msg, _ := ok.GetString("errMsg")
	assert.Equal(t, "getStorage:ok", msg)
	data, _ := ok.GetNumber("data")
	assert.Equal(t, float64(100), data)

	scalar := callback.Success(dynamic.String("x")).Response("getClipboardData")
	s, _ := scalar.GetString("data")
	assert.Equal(t, "x", s)

	fail := callback.Failure(hosterr.Host(hosterr.CodeNotFound, "data not found")).Response("getStorage")
	msg, _ = fail.GetString("errMsg")
	assert.Equal(t, "getStorage:fail data not found", msg)
	code, _ := fail.GetNumber("errCode")
	assert.Equal(t, float64(hosterr.CodeNotFound), code)
}
