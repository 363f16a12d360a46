package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRPCCode_SentinelMapping(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{ErrAuth, RPCCodeAuth},
		{ErrTenantMismatch, RPCCodeTenant},
		{ErrNotFound, RPCCodeNotFound},
		{ErrInvalidArgument, RPCCodeInvalidParams},
		{ErrSessionState, RPCCodeSessionState},
		{ErrDeadlineExceeded, RPCCodeDeadline},
		{errors.New("anything else"), RPCCodeInternal},
	}
	for _, c := range cases {
		assert.Equal(t, c.code, RPCCode(c.err), "%v", c.err)
	}
}

func TestRPCCode_WrappedErrors(t *testing.T) {
	wrapped := fmt.Errorf("session s1: %w", ErrSessionState)
	assert.Equal(t, RPCCodeSessionState, RPCCode(wrapped))

	pe := NewProviderError(ProviderTransient, errors.New("timeout"))
	assert.Equal(t, RPCCodeProvider, RPCCode(pe))
	assert.Equal(t, RPCCodeProvider, RPCCode(fmt.Errorf("add: %w", pe)))

	se := &StoreError{Op: "Insert", Err: errors.New("disk full")}
	assert.Equal(t, RPCCodeStore, RPCCode(se))
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, 401, HTTPStatus(ErrAuth))
	assert.Equal(t, 403, HTTPStatus(ErrTenantMismatch))
	assert.Equal(t, 404, HTTPStatus(ErrNotFound))
	assert.Equal(t, 400, HTTPStatus(fmt.Errorf("bad: %w", ErrInvalidArgument)))
	assert.Equal(t, 500, HTTPStatus(errors.New("boom")))
}

func TestSymbolicFilter_Empty(t *testing.T) {
	var f *SymbolicFilter
	assert.True(t, f.Empty())
	assert.True(t, (&SymbolicFilter{}).Empty())
	assert.False(t, (&SymbolicFilter{Persons: []string{"Alice"}}).Empty())
}
