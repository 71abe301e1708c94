package auth_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/pos-kasir/internal/auth"
	"github.com/noah-isme/pos-kasir/internal/common"
)

func newVerifier(t *testing.T) *auth.Verifier {
	t.Helper()
	v, err := auth.NewVerifier(auth.Config{Secret: "super-secret-key", Issuer: "pos-backend", Audience: "pos-kasir"})
	require.NoError(t, err)
	return v
}

func TestVerifierRoundTrip(t *testing.T) {
	v := newVerifier(t)
	token, err := v.Sign("cashier-7", time.Minute)
	require.NoError(t, err)

	claims, err := v.Verify(token)
	require.NoError(t, err)
	require.Equal(t, "cashier-7", claims.CashierID)
	require.Equal(t, "cashier", claims.Role)
}

func TestVerifierRoleRestriction(t *testing.T) {
	tills, err := auth.NewVerifier(auth.Config{Secret: "super-secret-key", Roles: []string{" Cashier ", "manager"}})
	require.NoError(t, err)
	token, err := tills.Sign("cashier-7", time.Minute)
	require.NoError(t, err)
	_, err = tills.Verify(token)
	require.NoError(t, err)

	managersOnly, err := auth.NewVerifier(auth.Config{Secret: "super-secret-key", Roles: []string{"manager"}})
	require.NoError(t, err)
	_, err = managersOnly.Verify(token)
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, http.StatusUnauthorized, appErr.HTTPStatus)
}

func TestVerifierRejectsExpiredToken(t *testing.T) {
	v := newVerifier(t)
	past := time.Now().Add(-time.Hour)
	v.WithNow(func() time.Time { return past })
	token, err := v.Sign("cashier-7", time.Minute)
	require.NoError(t, err)

	v.WithNow(time.Now)
	_, err = v.Verify(token)
	require.Error(t, err)
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, http.StatusUnauthorized, appErr.HTTPStatus)
}

func TestVerifierRejectsOtherAlgorithmAndSecret(t *testing.T) {
	v := newVerifier(t)
	now := time.Now()
	tok, err := jwt.NewBuilder().
		Subject("cashier-7").
		Issuer("pos-backend").
		Audience([]string{"pos-kasir"}).
		Expiration(now.Add(time.Minute)).
		Build()
	require.NoError(t, err)

	hs384, err := jwt.Sign(tok, jwt.WithKey(jwa.HS384, []byte("super-secret-key")))
	require.NoError(t, err)
	_, err = v.Verify(string(hs384))
	require.Error(t, err)

	wrongKey, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, []byte("another-secret")))
	require.NoError(t, err)
	_, err = v.Verify(string(wrongKey))
	require.Error(t, err)

	_, err = v.Verify("not-a-token")
	require.Error(t, err)
}

func TestNewVerifierRequiresSecret(t *testing.T) {
	_, err := auth.NewVerifier(auth.Config{})
	require.Error(t, err)
}

func TestRequireAuthMiddleware(t *testing.T) {
	v := newVerifier(t)
	var seen string
	handler := auth.Middleware{Verifier: v}.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = common.CashierID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	token, err := v.Sign("cashier-7", time.Minute)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "bearer "+token)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusNoContent, rr.Code)
	require.Equal(t, "cashier-7", seen)
}
