// Package callback implements the three-slot notification protocol of
// asynchronous capabilities: exactly one of success or failure, then
// complete, delivered as loop turns.
package callback

import (
	"github.com/reglet-dev/minihost/dynamic"
	"github.com/reglet-dev/minihost/hosterr"
)

// Outcome is the result of one call: a success value or a failure, never both.
type Outcome struct {
	value dynamic.Value
	err   *hosterr.Error
}

// Success returns a successful outcome.
func Success(v dynamic.Value) Outcome {
	return Outcome{value: v}
}

// Failure returns a failed outcome. A nil err is reported as an unknown
// host failure so the outcome stays a failure.
func Failure(err error) Outcome {
	he := hosterr.As(err)
	if he == nil {
		he = hosterr.Host(hosterr.CodeUnknown, "unknown failure")
	}
	return Outcome{err: he}
}

// From builds an outcome from a (value, error) pair.
func From(v dynamic.Value, err error) Outcome {
	if err != nil {
		return Failure(err)
	}
	return Success(v)
}

// OK reports whether the outcome is a success.
func (o Outcome) OK() bool { return o.err == nil }

// Value returns the success value. It is Null on failure.
func (o Outcome) Value() dynamic.Value { return o.value }

// Err returns the failure, or nil on success.
func (o Outcome) Err() error {
	if o.err == nil {
		return nil
	}
	return o.err
}

// Error returns the typed failure, or nil on success.
func (o Outcome) Error() *hosterr.Error { return o.err }

// Result returns the pair form used by synchronous variants.
func (o Outcome) Result() (dynamic.Value, error) {
	return o.value, o.Err()
}

// Response renders the outcome as guests see it. Successful map values gain
// errMsg "<name>:ok"; other successful values are wrapped under "data".
// Failures carry errMsg and errCode.
func (o Outcome) Response(name string) dynamic.Value {
	if o.err != nil {
		resp := hosterr.Fail(name, o.err)
		return dynamic.Object("errMsg", resp.ErrMsg, "errCode", resp.ErrCode)
	}
	ok := dynamic.String(hosterr.OK(name).ErrMsg)
	switch o.value.Kind() {
	case dynamic.KindMap:
		return o.value.With("errMsg", ok)
	case dynamic.KindNull:
		return dynamic.Object("errMsg", ok)
	default:
		return dynamic.Object("data", o.value, "errMsg", ok)
	}
}
