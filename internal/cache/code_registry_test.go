package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCodeRegistry(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryCodeRegistry()

	ok, err := reg.Reserve(ctx, "sessions", "AB12")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = reg.Reserve(ctx, "sessions", "AB12")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = reg.Reserve(ctx, "squadBattles", "AB12")
	require.NoError(t, err)
	assert.True(t, ok, "codes are scoped per collection")

	require.NoError(t, reg.Release(ctx, "sessions", "AB12"))
	ok, err = reg.Reserve(ctx, "sessions", "AB12")
	require.NoError(t, err)
	assert.True(t, ok, "released codes can be reserved again")
}

func TestKeyLayout(t *testing.T) {
	reg := &codeRegistry{}
	assert.Equal(t, "code:sessions:AB12", reg.key("sessions", "AB12"))

	feed := &changeFeed{}
	assert.Equal(t, "doc:squadBattles:X7Q", feed.channel("squadBattles", "X7Q"))
}
