package env

import (
	"context"
	"testing"

	"github.com/bnema/drawq/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVariableFor(t *testing.T) {
	assert.Equal(t, "DRAWQ_SECRET_RELAY_ACC_1_TOKEN", VariableFor("relay/acc-1/token"))
	assert.Equal(t, "DRAWQ_SECRET_RELAY_PRIMARY_TOKEN", VariableFor(" relay/primary.token "))
}

func TestStoreGet(t *testing.T) {
	t.Setenv("DRAWQ_SECRET_RELAY_ACC_1_TOKEN", "tok-123")
	store := NewStore()

	value, err := store.Get(context.Background(), "relay/acc-1/token")
	require.NoError(t, err)
	assert.Equal(t, "tok-123", value)

	_, err = store.Get(context.Background(), "relay/acc-2/token")
	require.ErrorIs(t, err, domain.ErrSecretNotFound)
}

func TestStoreIsReadOnly(t *testing.T) {
	store := NewStore()

	require.Error(t, store.Put(context.Background(), "relay/acc-1/token", "x"))
	require.Error(t, store.Delete(context.Background(), "relay/acc-1/token"))
}
