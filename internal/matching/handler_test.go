package matching

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian/internal/shared"
)

type countingMatchRepo struct {
	*memoryMatchRepo
	invoiceCalls int
}

func (r *countingMatchRepo) GetInvoice(ctx context.Context, invoiceID, companyID int64) (Invoice, []InvoiceLine, error) {
	r.invoiceCalls++
	return r.memoryMatchRepo.GetInvoice(ctx, invoiceID, companyID)
}

func newTestHandler(t *testing.T, repo RepositoryPort) *Handler {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	svc := NewService(repo, nil, nil, testLogger())
	return NewHandler(testLogger(), svc, client)
}

func mountTestRouter(h *Handler, actor *shared.Actor) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(shared.ContextWithActor(req.Context(), actor)))
		})
	})
	r.Route("/matching", h.MountRoutes)
	return r
}

func TestPreviewServesSecondCallFromCache(t *testing.T) {
	repo := &countingMatchRepo{memoryMatchRepo: newMemoryMatchRepo()}
	poID := int64(10)
	repo.invoices[1] = Invoice{ID: 1, CompanyID: 100, Total: 100, PurchaseOrderID: &poID}
	repo.invLines[1] = []InvoiceLine{{ItemID: 7, Quantity: 1, UnitPrice: 100, Total: 100}}
	repo.poLines[poID] = []POLine{{ItemID: 7, Quantity: 1, UnitPrice: 100}}

	router := mountTestRouter(newTestHandler(t, repo), &shared.Actor{UserID: 5, CompanyID: 100})

	var first, second Result
	for i, target := range []*Result{&first, &second} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/matching/invoices/1", nil))
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i+1)
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), target))
	}

	require.Equal(t, 1, repo.invoiceCalls)
	require.Equal(t, first, second)
	require.Equal(t, MatchFull, first.Status)
}

func TestPreviewIsTenantScopedByActor(t *testing.T) {
	repo := &countingMatchRepo{memoryMatchRepo: newMemoryMatchRepo()}
	repo.invoices[1] = Invoice{ID: 1, CompanyID: 100, Total: 50}

	router := mountTestRouter(newTestHandler(t, repo), &shared.Actor{UserID: 5, CompanyID: 200})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/matching/invoices/1", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPreviewRejectsAnonymous(t *testing.T) {
	router := mountTestRouter(newTestHandler(t, newMemoryMatchRepo()), nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/matching/invoices/1", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestOverrideRequiresPermissionAndReason(t *testing.T) {
	repo := newMemoryMatchRepo()
	repo.invoices[1] = Invoice{ID: 1, CompanyID: 100, Total: 50}

	handler := newTestHandler(t, repo)

	viewer := &shared.Actor{UserID: 5, CompanyID: 100, Permissions: shared.NewPermissionSet("purchase.invoice.view")}
	rec := httptest.NewRecorder()
	mountTestRouter(handler, viewer).ServeHTTP(rec, httptest.NewRequest(http.MethodPost,
		"/matching/invoices/1/override", strings.NewReader(`{"reason":"supplier confirmed revised price"}`)))
	require.Equal(t, http.StatusForbidden, rec.Code)

	approver := &shared.Actor{UserID: 5, CompanyID: 100, Permissions: shared.NewPermissionSet("purchase.invoice.override_variance")}
	rec = httptest.NewRecorder()
	mountTestRouter(handler, approver).ServeHTTP(rec, httptest.NewRequest(http.MethodPost,
		"/matching/invoices/1/override", strings.NewReader(`{"reason":"ok"}`)))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
