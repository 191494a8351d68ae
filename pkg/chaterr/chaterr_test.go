package chaterr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstructors(t *testing.T) {
	e := AuthenticationError("bad creds")
	assert.Equal(t, CodeAuthFailure, e.Code)
	assert.Equal(t, KindAuth, e.Kind)

	e = PermissionDenied("nope")
	assert.Equal(t, CodePermissionDenied, e.Code)
	assert.Equal(t, KindAuthorization, e.Kind)

	cause := errors.New("driver error")
	e = StoreFailure("save failed", cause)
	assert.Equal(t, CodeStoreFailure, e.Code)
	assert.ErrorIs(t, e, cause)
	assert.Contains(t, e.Error(), "driver error")
}

func TestAsError(t *testing.T) {
	assert.Nil(t, AsError(nil))

	typed := InvalidCommand("malformed")
	require.Same(t, typed, AsError(typed))

	plain := errors.New("boom")
	wrapped := AsError(plain)
	require.NotNil(t, wrapped)
	assert.Equal(t, CodeServerError, wrapped.Code)
	assert.Equal(t, KindInternal, wrapped.Kind)
	assert.ErrorIs(t, wrapped, plain)
}
