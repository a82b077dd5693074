package secrets

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type mapStore struct {
	creds map[[2]string]string
	err   error
}

func (m *mapStore) GetCredential(_ context.Context, service, userID string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	return m.creds[[2]string{service, userID}], nil
}

func TestResolve_UserKeyWinsOverShared(t *testing.T) {
	store := &mapStore{creds: map[[2]string]string{
		{"llm", "user1"}: "sk-personal",
		{"llm", ""}:      "sk-shared",
	}}
	r := NewResolver(store)

	got, err := r.Resolve(context.Background(), "llm", "user1")
	require.NoError(t, err)
	require.Equal(t, "sk-personal", got)
}

func TestResolve_FallsBackToShared(t *testing.T) {
	store := &mapStore{creds: map[[2]string]string{
		{"llm", ""}: "sk-shared",
	}}
	r := NewResolver(store)

	got, err := r.Resolve(context.Background(), "llm", "user1")
	require.NoError(t, err)
	require.Equal(t, "sk-shared", got)
}

func TestResolve_AbsenceIsNotAnError(t *testing.T) {
	r := NewResolver(&mapStore{creds: map[[2]string]string{}})

	got, err := r.Resolve(context.Background(), "llm", "user1")
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestResolve_EmptyUserSkipsUserLookup(t *testing.T) {
	store := &mapStore{creds: map[[2]string]string{
		{"llm", ""}: "sk-shared",
	}}
	r := NewResolver(store)

	got, err := r.Resolve(context.Background(), "llm", "")
	require.NoError(t, err)
	require.Equal(t, "sk-shared", got)
}

func TestResolve_StoreErrorPropagates(t *testing.T) {
	r := NewResolver(&mapStore{err: errors.New("db closed")})

	_, err := r.Resolve(context.Background(), "llm", "user1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "llm")
}
