// Package env reads secrets from DRAWQ_SECRET_* environment variables. The
// key relay/acc-1/token is looked up as DRAWQ_SECRET_RELAY_ACC_1_TOKEN.
package env

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/bnema/drawq/internal/domain"
	"github.com/bnema/drawq/internal/ports"
)

const Prefix = "DRAWQ_SECRET_"

var errReadOnly = errors.New("environment secret store is read-only")

type Store struct {
	lookup func(string) (string, bool)
}

var _ ports.SecretStore = (*Store)(nil)

func NewStore() *Store {
	return &Store{lookup: os.LookupEnv}
}

func VariableFor(key string) string {
	var b strings.Builder
	b.WriteString(Prefix)
	for _, r := range strings.ToUpper(strings.TrimSpace(key)) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			continue
		}
		b.WriteByte('_')
	}
	return b.String()
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if strings.TrimSpace(key) == "" {
		return "", errors.New("secret key is empty")
	}

	value, ok := s.lookup(VariableFor(key))
	if !ok || value == "" {
		return "", fmt.Errorf("env secret %q: %w", key, domain.ErrSecretNotFound)
	}
	return value, nil
}

func (s *Store) Put(context.Context, string, string) error {
	return errReadOnly
}

func (s *Store) Delete(context.Context, string) error {
	return errReadOnly
}
