package admin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsCommand(t *testing.T) {
	assert.True(t, IsCommand("/del -u 5"))
	assert.True(t, IsCommand("  /ban -g general"))
	assert.False(t, IsCommand("hello world"))
	assert.False(t, IsCommand(""))
}

func TestTokenize(t *testing.T) {
	verb, object, args, err := tokenize("/del -u 5")
	require.NoError(t, err)
	assert.Equal(t, "del", verb)
	assert.Equal(t, "-u", object)
	assert.Equal(t, []string{"5"}, args)

	verb, object, args, err = tokenize("/free -l")
	require.NoError(t, err)
	assert.Equal(t, "free", verb)
	assert.Equal(t, "-l", object)
	assert.Empty(t, args)

	_, _, _, err = tokenize("not a command")
	assert.Error(t, err)

	_, _, _, err = tokenize("/del")
	assert.Error(t, err)
}
