package hosterr_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/reglet-dev/minihost/hosterr"
)

func TestError_IsMatchesCodeAndClass(t *testing.T) {
	err := hosterr.Host(hosterr.CodeNotFound, "data not found")

	assert.ErrorIs(t, err, hosterr.ErrNotFound)
	assert.ErrorIs(t, err, hosterr.ErrHost)
	assert.NotErrorIs(t, err, hosterr.ErrContract)
	assert.NotErrorIs(t, err, hosterr.ErrPermissionDenied)
}

func TestError_ContractCarriesField(t *testing.T) {
	err := hosterr.Contract("url", "must not be empty")

	assert.ErrorIs(t, err, hosterr.ErrContract)
	assert.Equal(t, "url", err.Field)
	assert.Equal(t, "url: must not be empty", err.Error())
}

func TestError_TerminalIsInvalidState(t *testing.T) {
	err := hosterr.Terminal("request task", "aborted")

	assert.ErrorIs(t, err, hosterr.ErrInvalidState)
	assert.ErrorIs(t, err, hosterr.ErrAlreadyTerminal)
}

func TestAs_WrapsForeignErrors(t *testing.T) {
	plain := errors.New("boom")
	he := hosterr.As(fmt.Errorf("outer: %w", plain))

	assert.Equal(t, hosterr.ClassHost, he.Class)
	assert.Equal(t, hosterr.CodeUnknown, he.Code)
	assert.ErrorIs(t, he, plain)
	assert.Nil(t, hosterr.As(nil))
}

func TestAs_FindsWrappedHostError(t *testing.T) {
	inner := hosterr.State("paused")
	he := hosterr.As(fmt.Errorf("seek: %w", inner))

	assert.Same(t, inner, he)
	assert.Equal(t, hosterr.ClassState, hosterr.ClassOf(inner))
}

func TestResponse(t *testing.T) {
	assert.Equal(t, "getStorage:ok", hosterr.OK("getStorage").ErrMsg)

	resp := hosterr.Fail("getStorage", hosterr.Host(hosterr.CodeNotFound, "data not found"))
	assert.Equal(t, "getStorage:fail data not found", resp.ErrMsg)
	assert.Equal(t, int(hosterr.CodeNotFound), resp.ErrCode)
}
