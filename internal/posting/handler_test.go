package posting

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian/internal/lifecycle"
	"github.com/meridian-erp/meridian/internal/shared"
)

func newTestHandler(repo *fakePostingRepo) *Handler {
	engine := newTestEngine(repo)
	return NewHandler(engine.logger, engine, lifecycle.NewRegistry(), nil, nil)
}

func postRun(t *testing.T, h *Handler, actor *shared.Actor, body string) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	r.Route("/posting", h.MountRoutes)

	req := httptest.NewRequest(http.MethodPost, "/posting/run", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if actor != nil {
		req = req.WithContext(shared.ContextWithActor(req.Context(), actor))
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

const expenseRunBody = `{"event":"expense.approved","entityType":"expense_request","entityId":42}`

func TestRunExpenseRequestRequiresPostingPermission(t *testing.T) {
	repo := newFakePostingRepo()
	repo.rules = []Rule{approvedExpenseRule(1)}
	repo.addProjection(expenseProjection())
	h := newTestHandler(repo)

	// Expense requests have no lifecycle policy; being authenticated in
	// the company must not be enough to trigger a run.
	actor := &shared.Actor{UserID: 3, CompanyID: 1, Permissions: shared.ParsePermissionSet("expense.view")}
	rec := postRun(t, h, actor, expenseRunBody)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Empty(t, repo.markers, "refused runs must not write markers")
	require.Empty(t, repo.ledger.entries)
}

func TestRunExpenseRequestWithGrant(t *testing.T) {
	repo := newFakePostingRepo()
	repo.rules = []Rule{approvedExpenseRule(1)}
	repo.addProjection(expenseProjection())
	h := newTestHandler(repo)

	actor := &shared.Actor{UserID: 3, CompanyID: 1, Permissions: shared.ParsePermissionSet("posting.run")}
	rec := postRun(t, h, actor, expenseRunBody)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"posted"`)
	require.Len(t, repo.ledger.entries, 1)
}

func TestRunRejectsAnonymous(t *testing.T) {
	repo := newFakePostingRepo()
	h := newTestHandler(repo)

	rec := postRun(t, h, nil, expenseRunBody)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
