// Package secrets resolves API credentials for external services.
package secrets

import (
	"context"
	"fmt"
	"log/slog"
)

// CredentialStore is the subset of the repository the resolver needs.
type CredentialStore interface {
	GetCredential(ctx context.Context, service, userID string) (string, error)
}

// Resolver looks up API credentials, preferring a user-scoped key over the
// shared fallback stored under an empty user ID.
type Resolver struct {
	store CredentialStore
}

// NewResolver creates a resolver over the given credential store.
func NewResolver(store CredentialStore) *Resolver {
	return &Resolver{store: store}
}

// Resolve returns the credential for a service. A user-scoped key wins over
// the shared fallback; absence of both is a normal outcome reported as an
// empty string, not an error.
func (r *Resolver) Resolve(ctx context.Context, service, userID string) (string, error) {
	if userID != "" {
		credential, err := r.store.GetCredential(ctx, service, userID)
		if err != nil {
			return "", fmt.Errorf("lookup user credential for %s: %w", service, err)
		}
		if credential != "" {
			return credential, nil
		}
	}

	credential, err := r.store.GetCredential(ctx, service, "")
	if err != nil {
		return "", fmt.Errorf("lookup shared credential for %s: %w", service, err)
	}
	if credential == "" {
		slog.Debug("no credential configured", "service", service, "user_id", userID)
	}
	return credential, nil
}
