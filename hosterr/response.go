package hosterr

import "fmt"

// Response is the wire form of a call result as guests observe it:
// errMsg always present, errCode only on failure.
type Response struct {
	ErrMsg  string `json:"errMsg"`
	ErrCode int    `json:"errCode,omitempty"`
}

// OK returns the success response for a capability.
func OK(capability string) Response {
	return Response{ErrMsg: capability + ":ok"}
}

// Fail returns the failure response for a capability.
func Fail(capability string, err error) Response {
	he := As(err)
	return Response{
		ErrMsg:  fmt.Sprintf("%s:fail %s", capability, he.Error()),
		ErrCode: int(he.Code),
	}
}
