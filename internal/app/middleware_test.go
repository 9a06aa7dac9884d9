package app

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian/internal/shared"
)

func TestActorMiddlewareParsesGatewayHeaders(t *testing.T) {
	var got *shared.Actor
	handler := ActorMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = shared.ActorFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderUserID, "7")
	req.Header.Set(HeaderCompanyID, "2")
	req.Header.Set(HeaderPermissions, "purchase.invoice.post,posting.confirm")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	require.NotNil(t, got)
	require.Equal(t, int64(7), got.UserID)
	require.Equal(t, int64(2), got.CompanyID)
	require.True(t, got.Permissions.Has("posting.confirm"))
	require.False(t, got.Permissions.Has("posting.run"))
}

func TestActorMiddlewareWithoutIdentity(t *testing.T) {
	var got *shared.Actor
	handler := ActorMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = shared.ActorFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	require.Nil(t, got)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderUserID, "not-a-number")
	req.Header.Set(HeaderCompanyID, "2")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	require.Nil(t, got)
}
