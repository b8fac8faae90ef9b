package ports

import "context"

// SecretStore holds relay tokens by reference (Account.SecretRef). Get
// reports a missing token with domain.ErrSecretNotFound.
type SecretStore interface {
	Get(ctx context.Context, key string) (string, error)
	Put(ctx context.Context, key string, value string) error
	Delete(ctx context.Context, key string) error
}
