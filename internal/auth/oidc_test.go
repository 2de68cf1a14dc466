package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"memoria/internal/config"
)

func TestNewVerifierDisabledWhenIssuerURLEmpty(t *testing.T) {
	v, err := NewVerifier(context.Background(), config.OIDCConfig{})
	require.NoError(t, err)
	require.False(t, v.Enabled)
}

func TestRequireAdminPassesThroughWhenDisabled(t *testing.T) {
	v := &Verifier{}
	called := false
	h := v.RequireAdmin(func(w http.ResponseWriter, r *http.Request) { called = true })

	req := httptest.NewRequest(http.MethodPost, "/admin/users", nil)
	rec := httptest.NewRecorder()
	h(rec, req)

	require.True(t, called)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireAdminRejectsMissingBearerToken(t *testing.T) {
	v := &Verifier{Enabled: true}
	called := false
	h := v.RequireAdmin(func(w http.ResponseWriter, r *http.Request) { called = true })

	req := httptest.NewRequest(http.MethodPost, "/admin/users", nil)
	rec := httptest.NewRecorder()
	h(rec, req)

	require.False(t, called)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestVerifyBearerRejectsMissingHeader(t *testing.T) {
	v := &Verifier{Enabled: true}
	req := httptest.NewRequest(http.MethodPost, "/admin/users", nil)

	_, err := v.VerifyBearer(context.Background(), req)
	require.Error(t, err)
}
