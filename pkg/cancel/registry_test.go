package cancel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterSignalRelease(t *testing.T) {
	r := NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, r.Register(ConversationKey("c1"), cancel))
	require.ErrorIs(t, r.Register(ConversationKey("c1"), cancel), ErrKeyInUse)
	assert.True(t, r.Has(ConversationKey("c1")))

	assert.NoError(t, r.Signal(ConversationKey("c1")))
	assert.ErrorIs(t, ctx.Err(), context.Canceled)

	assert.NoError(t, r.Release(ConversationKey("c1")))
	assert.ErrorIs(t, r.Release(ConversationKey("c1")), ErrKeyNotFound)
	assert.ErrorIs(t, r.Signal(ConversationKey("c1")), ErrKeyNotFound)
	assert.Equal(t, 0, r.Len())
}

func TestKeysAreNamespaced(t *testing.T) {
	r := NewRegistry()
	_, cancelConv := context.WithCancel(context.Background())
	actionCtx, cancelAction := context.WithCancel(context.Background())
	defer cancelConv()

	require.NoError(t, r.Register(ConversationKey("same"), cancelConv))
	require.NoError(t, r.Register(ActionKey("same"), cancelAction))
	assert.Equal(t, 2, r.Len())

	assert.NoError(t, r.SignalAndRelease(ActionKey("same")))
	assert.ErrorIs(t, actionCtx.Err(), context.Canceled)
	assert.True(t, r.Has(ConversationKey("same")))
	assert.ErrorIs(t, r.SignalAndRelease(ActionKey("same")), ErrKeyNotFound)
}

func TestRegisterRejectsInvalid(t *testing.T) {
	r := NewRegistry()
	require.ErrorIs(t, r.Register(ConversationKey(""), func() {}), ErrKeyEmpty)
	require.ErrorIs(t, r.Register(ConversationKey("x"), nil), ErrHandleNil)
}

func TestTrackReleasesOnce(t *testing.T) {
	r := NewRegistry()
	ctx, release, err := r.Track(context.Background(), ConversationKey("c"))
	require.NoError(t, err)
	assert.Equal(t, 1, r.Len())

	_, _, err = r.Track(context.Background(), ConversationKey("c"))
	require.ErrorIs(t, err, ErrKeyInUse)
	assert.Equal(t, 1, r.Len())

	release()
	release()
	assert.Equal(t, 0, r.Len())
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
}

func TestTrackSignalCancelsContext(t *testing.T) {
	r := NewRegistry()
	ctx, release, err := r.Track(context.Background(), ActionKey("a1"))
	require.NoError(t, err)
	defer release()

	assert.NoError(t, r.Signal(ActionKey("a1")))
	<-ctx.Done()
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
}

func TestStaleReleaseKeepsSuccessor(t *testing.T) {
	r := NewRegistry()
	_, releaseOld, err := r.Track(context.Background(), ConversationKey("c"))
	require.NoError(t, err)

	require.NoError(t, r.SignalAndRelease(ConversationKey("c")))

	_, releaseNew, err := r.Track(context.Background(), ConversationKey("c"))
	require.NoError(t, err)
	defer releaseNew()

	releaseOld()
	assert.True(t, r.Has(ConversationKey("c")))
}
