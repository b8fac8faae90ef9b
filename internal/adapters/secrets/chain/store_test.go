package chain

import (
	"context"
	"errors"
	"testing"

	"github.com/bnema/drawq/internal/domain"
	portmocks "github.com/bnema/drawq/internal/ports/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestStoreGetUsesPrimaryWhenItSucceeds(t *testing.T) {
	t.Parallel()

	primary := portmocks.NewMockSecretStore(t)
	fallback := portmocks.NewMockSecretStore(t)
	store := NewStore(primary, fallback)

	primary.EXPECT().Get(mock.Anything, "relay/acc-1/token").Return("from-env", nil).Once()

	value, err := store.Get(context.Background(), "relay/acc-1/token")
	require.NoError(t, err)
	assert.Equal(t, "from-env", value)
}

func TestStoreGetFallsBackWhenPrimaryFails(t *testing.T) {
	t.Parallel()

	primary := portmocks.NewMockSecretStore(t)
	fallback := portmocks.NewMockSecretStore(t)
	store := NewStore(primary, fallback)

	primary.EXPECT().Get(mock.Anything, "relay/acc-1/token").Return("", errors.New("env unavailable")).Once()
	fallback.EXPECT().Get(mock.Anything, "relay/acc-1/token").Return("from-file", nil).Once()

	value, err := store.Get(context.Background(), "relay/acc-1/token")
	require.NoError(t, err)
	assert.Equal(t, "from-file", value)
}

func TestStoreGetReturnsCombinedErrorWhenBothBackendsFail(t *testing.T) {
	t.Parallel()

	primary := portmocks.NewMockSecretStore(t)
	fallback := portmocks.NewMockSecretStore(t)
	store := NewStore(primary, fallback)

	primary.EXPECT().Get(mock.Anything, "relay/acc-1/token").Return("", errors.New("env failed")).Once()
	fallback.EXPECT().Get(mock.Anything, "relay/acc-1/token").Return("", errors.New("file failed")).Once()

	_, err := store.Get(context.Background(), "relay/acc-1/token")
	require.Error(t, err)
	assert.ErrorContains(t, err, "backend 0 get failed")
	assert.ErrorContains(t, err, "backend 1 get failed")
	assert.ErrorContains(t, err, "env failed")
	assert.ErrorContains(t, err, "file failed")
}

func TestStorePutFallsBackWhenPrimaryFails(t *testing.T) {
	t.Parallel()

	primary := portmocks.NewMockSecretStore(t)
	fallback := portmocks.NewMockSecretStore(t)
	store := NewStore(primary, fallback)

	primary.EXPECT().Put(mock.Anything, "relay/acc-1/token", "secret").Return(errors.New("env failed")).Once()
	fallback.EXPECT().Put(mock.Anything, "relay/acc-1/token", "secret").Return(nil).Once()

	err := store.Put(context.Background(), "relay/acc-1/token", "secret")
	require.NoError(t, err)
}

func TestStorePutDoesNotCallFallbackWhenPrimarySucceeds(t *testing.T) {
	t.Parallel()

	primary := portmocks.NewMockSecretStore(t)
	fallback := portmocks.NewMockSecretStore(t)
	store := NewStore(primary, fallback)

	primary.EXPECT().Put(mock.Anything, "relay/acc-1/token", "secret").Return(nil).Once()

	err := store.Put(context.Background(), "relay/acc-1/token", "secret")
	require.NoError(t, err)
}

func TestStoreDeleteFallsBackWhenPrimaryFails(t *testing.T) {
	t.Parallel()

	primary := portmocks.NewMockSecretStore(t)
	fallback := portmocks.NewMockSecretStore(t)
	store := NewStore(primary, fallback)

	primary.EXPECT().Delete(mock.Anything, "relay/acc-1/token").Return(errors.New("env failed")).Once()
	fallback.EXPECT().Delete(mock.Anything, "relay/acc-1/token").Return(nil).Once()

	err := store.Delete(context.Background(), "relay/acc-1/token")
	require.NoError(t, err)
}

func TestStoreDeleteDoesNotCallFallbackWhenPrimarySucceeds(t *testing.T) {
	t.Parallel()

	primary := portmocks.NewMockSecretStore(t)
	fallback := portmocks.NewMockSecretStore(t)
	store := NewStore(primary, fallback)

	primary.EXPECT().Delete(mock.Anything, "relay/acc-1/token").Return(nil).Once()

	err := store.Delete(context.Background(), "relay/acc-1/token")
	require.NoError(t, err)
}

func TestStoreGetDoesNotFallbackOnCanceledContextError(t *testing.T) {
	t.Parallel()

	primary := portmocks.NewMockSecretStore(t)
	fallback := portmocks.NewMockSecretStore(t)
	store := NewStore(primary, fallback)

	primary.EXPECT().Get(mock.Anything, "relay/acc-1/token").Return("", context.Canceled).Once()

	_, err := store.Get(context.Background(), "relay/acc-1/token")
	require.ErrorIs(t, err, context.Canceled)
}

func TestStoreGetWalksEveryBackend(t *testing.T) {
	t.Parallel()

	first := portmocks.NewMockSecretStore(t)
	second := portmocks.NewMockSecretStore(t)
	third := portmocks.NewMockSecretStore(t)
	store := NewStore(first, second, third)

	first.EXPECT().Get(mock.Anything, "relay/acc-1/token").Return("", domain.ErrSecretNotFound).Once()
	second.EXPECT().Get(mock.Anything, "relay/acc-1/token").Return("", domain.ErrSecretNotFound).Once()
	third.EXPECT().Get(mock.Anything, "relay/acc-1/token").Return("from-third", nil).Once()

	value, err := store.Get(context.Background(), "relay/acc-1/token")
	require.NoError(t, err)
	assert.Equal(t, "from-third", value)
}

func TestNewStoreCheckedRejectsEmptyOrNilBackends(t *testing.T) {
	t.Parallel()

	_, err := NewStoreChecked()
	require.Error(t, err)

	_, err = NewStoreChecked(portmocks.NewMockSecretStore(t), nil)
	require.ErrorContains(t, err, "secret store 1 is nil")
}
