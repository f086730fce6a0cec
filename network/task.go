package network

import (
	"context"
	"time"

	"github.com/reglet-dev/minihost/callback"
	"github.com/reglet-dev/minihost/dynamic"
	"github.com/reglet-dev/minihost/hosterr"
	"github.com/reglet-dev/minihost/task"
)

// Event names emitted on network task handles.
const (
	EventHeadersReceived = "headersReceived"
	EventProgressUpdate  = "progressUpdate"
	EventOpen            = "open"
	EventMessage         = "message"
	EventError           = "error"
	EventClose           = "close"
)

// Task is a network operation handle paired with the future of its result.
type Task struct {
	*task.Handle
	future *callback.Future
	cancel context.CancelFunc
}

// Future settles once with the operation's outcome.
func (t *Task) Future() *callback.Future { return t.future }

func (c *Client) newTask(ctx context.Context, kind string, timeout time.Duration, opts ...task.Option) (*Task, context.Context) {
	ctx, cancel := context.WithTimeout(ctx, c.timeoutFor(timeout))
	t := &Task{future: callback.NewFuture(c.sched), cancel: cancel}
	opts = append([]task.Option{
		task.WithTable(task.OneShotTable),
		task.WithAbortHook(cancel),
		task.WithLogger(c.logger),
	}, opts...)
	t.Handle = task.New(kind, c.sched, opts...)
	return t, ctx
}

// reject settles a task that never started.
func (t *Task) reject(err error) {
	t.finish(dynamic.Null(), err)
}

// finish moves the handle to its terminal state and settles the future.
// When the handle already settled, as after an abort, that state wins.
func (t *Task) finish(v dynamic.Value, err error) {
	defer t.cancel()
	if err == nil {
		if t.Complete() != nil {
			err = t.settledErr()
		}
	} else {
		he := classify(err)
		err = he
		if t.Fail(he) != nil {
			err = t.settledErr()
		}
	}
	t.future.Settle(callback.From(v, err))
}

func (t *Task) settledErr() error {
	if err := t.Err(); err != nil {
		return err
	}
	return hosterr.Host(hosterr.CodeAborted, "%s aborted", t.Kind())
}
