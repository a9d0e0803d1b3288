package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http/httptest"
	"testing"

	"github.com/jfcostello/llm-coordinator/pkg/spec"
	"github.com/stretchr/testify/require"
)

func TestNormalizeKeysAcceptsSliceOrCSV(t *testing.T) {
	require.Equal(t, []string{"a", "b"}, NormalizeKeys("a, b"))
	require.Equal(t, []string{"a", "b"}, NormalizeKeys([]string{"a", " b "}))
}

func TestAuthenticateBearerPlaintext(t *testing.T) {
	a := New(Config{Enabled: true, Keys: []string{"secret-key"}})
	req := httptest.NewRequest("POST", "/run", nil)
	req.Header.Set("Authorization", "Bearer secret-key")
	require.NoError(t, a.Authenticate(req))
}

func TestAuthenticateHashedKey(t *testing.T) {
	sum := sha256.Sum256([]byte("secret-key"))
	a := New(Config{Enabled: true, Keys: []string{"sha256:" + hex.EncodeToString(sum[:])}})
	req := httptest.NewRequest("POST", "/run", nil)
	req.Header.Set("x-api-key", "secret-key")
	require.NoError(t, a.Authenticate(req))
}

func TestAuthenticateRejectsUnknownKey(t *testing.T) {
	a := New(Config{Enabled: true, Keys: []string{"secret-key"}})
	req := httptest.NewRequest("POST", "/run", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	err := a.Authenticate(req)
	require.Equal(t, spec.ErrUnauthorized, spec.KindOf(err))
}

func TestAuthenticatePredicateForbids(t *testing.T) {
	a := New(Config{
		Enabled:   true,
		Keys:      []string{"secret-key"},
		Predicate: func(ctx context.Context, key string) bool { return false },
	})
	req := httptest.NewRequest("POST", "/run", nil)
	req.Header.Set("Authorization", "Bearer secret-key")
	err := a.Authenticate(req)
	require.Equal(t, spec.ErrForbidden, spec.KindOf(err))
}

func TestAuthenticateDisabledPasses(t *testing.T) {
	a := New(Config{Enabled: false})
	req := httptest.NewRequest("POST", "/run", nil)
	require.NoError(t, a.Authenticate(req))
}
