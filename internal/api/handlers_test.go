package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-heal/internal/auth"
	"github.com/miradorstack/mirador-heal/internal/models"
	"github.com/miradorstack/mirador-heal/internal/services"
	"github.com/miradorstack/mirador-heal/internal/utils"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeService struct {
	triggerErr  error
	rollbackReq services.RollbackRequest
	rollbackBy  models.Caller
	rollbackErr error
	reportDays  int
	page        models.Page
	alertFilter models.AlertFilter
}

func (f *fakeService) Trigger(_ context.Context, job string) (models.Run, error) {
	if f.triggerErr != nil {
		return models.Run{}, f.triggerErr
	}
	return models.Run{ID: "run-1", JobName: job, Status: models.RunRunning}, nil
}

func (f *fakeService) Rollback(_ context.Context, caller models.Caller, req services.RollbackRequest) (models.Patch, error) {
	f.rollbackReq, f.rollbackBy = req, caller
	if f.rollbackErr != nil {
		return models.Patch{}, f.rollbackErr
	}
	at := time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)
	return models.Patch{ID: req.PatchID, Status: models.PatchRolledBack, RolledBackAt: &at, RolledBackReason: req.Reason}, nil
}

func (f *fakeService) ProposePatch(_ context.Context, _ models.Caller, req models.ProposeRequest) (models.Patch, error) {
	return models.Patch{ID: "p1", TargetPath: req.TargetPath, Status: models.PatchProposed}, nil
}

func (f *fakeService) ApplyPatch(_ context.Context, _ models.Caller, id string) (models.Patch, error) {
	return models.Patch{ID: id, Status: models.PatchApplied}, nil
}

func (f *fakeService) RejectPatch(_ context.Context, _ models.Caller, id, reason string) (models.Patch, error) {
	return models.Patch{ID: id, Status: models.PatchFailed, FailureReason: reason}, nil
}

func (f *fakeService) GetPatch(_ context.Context, id string) (models.Patch, error) {
	return models.Patch{}, utils.NotFound("patches.Get", "patch "+id)
}

func (f *fakeService) Report(_ context.Context, days int) models.Report {
	f.reportDays = days
	return models.Report{Summary: models.ReportSummary{Status: models.StatusHealthy}}
}

func (f *fakeService) History(_ context.Context, page models.Page) (models.History, error) {
	f.page = page
	return models.History{Runs: []models.RunHistory{}, Stats: models.HistoryStats{Total: 3}}, nil
}

func (f *fakeService) Run(_ context.Context, id string) (models.RunHistory, error) {
	return models.RunHistory{Run: models.Run{ID: id}, Actions: []models.Action{}}, nil
}

func (f *fakeService) RecordHeartbeat(_ context.Context, source string) (models.Heartbeat, error) {
	return models.Heartbeat{ID: "hb", Source: source}, nil
}

func (f *fakeService) ListAlerts(_ context.Context, filter models.AlertFilter) ([]models.Alert, error) {
	f.alertFilter = filter
	return []models.Alert{}, nil
}

func (f *fakeService) AcknowledgeAlert(_ context.Context, caller models.Caller, id string) (models.Alert, error) {
	return models.Alert{ID: id, Acknowledged: true, AcknowledgedBy: caller.ID}, nil
}

type pingErr struct{ err error }

func (p pingErr) Ping(context.Context) error { return p.err }

func newTestRouter(svc *fakeService, db Pinger) *gin.Engine {
	authn := auth.NewAuthorizer([]auth.Operator{{ID: "alice", Token: "secret"}})
	return NewRouter(NewHandlers(svc, nil), authn, db, nil)
}

func do(r http.Handler, method, path, body, token string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestTriggerAccepted(t *testing.T) {
	r := newTestRouter(&fakeService{}, nil)
	w := do(r, http.MethodPost, "/healing/trigger", `{"job":"nightly-scan"}`, "")

	require.Equal(t, http.StatusAccepted, w.Code)
	body := decode(t, w)
	assert.Equal(t, "run-1", body["runId"])
	assert.Equal(t, "running", body["status"])
}

func TestTriggerErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		code int
		kind string
	}{
		{utils.Conflict("runs.Open", "job nightly-scan already has a running run"), http.StatusConflict, "conflict"},
		{utils.NotFound("store.GetJob", "job nope"), http.StatusNotFound, "not_found"},
		{&utils.AppError{Op: "ratelimit.Allow", Msg: "slow down", Kind: utils.ErrRateLimited}, http.StatusTooManyRequests, "rate_limited"},
		{errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tc := range cases {
		r := newTestRouter(&fakeService{triggerErr: tc.err}, nil)
		w := do(r, http.MethodPost, "/healing/trigger", `{"job":"nightly-scan"}`, "")
		require.Equal(t, tc.code, w.Code, tc.kind)
		body := decode(t, w)
		assert.Equal(t, "error", body["status"])
		assert.Equal(t, tc.kind, body["error"].(map[string]any)["kind"])
	}
}

func TestTriggerRequiresJob(t *testing.T) {
	r := newTestRouter(&fakeService{}, nil)
	w := do(r, http.MethodPost, "/healing/trigger", `{}`, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRollbackRequiresToken(t *testing.T) {
	svc := &fakeService{}
	r := newTestRouter(svc, nil)

	w := do(r, http.MethodPost, "/healing/rollback", `{"patchId":"p1","reason":"regression"}`, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(r, http.MethodPost, "/healing/rollback", `{"patchId":"p1","reason":"regression"}`, "wrong")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, svc.rollbackReq.PatchID)
}

func TestRollbackSucceeds(t *testing.T) {
	svc := &fakeService{}
	r := newTestRouter(svc, nil)

	w := do(r, http.MethodPost, "/healing/rollback", `{"patchId":"p1","reason":"regression","oldContent":"A"}`, "secret")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "rolled_back", body["status"])
	assert.Equal(t, "regression", body["reason"])
	assert.NotNil(t, body["rolledBackAt"])

	assert.Equal(t, "alice", svc.rollbackBy.ID)
	require.NotNil(t, svc.rollbackReq.OldContent)
	assert.Equal(t, "A", *svc.rollbackReq.OldContent)
}

func TestRollbackInvalidState(t *testing.T) {
	svc := &fakeService{rollbackErr: utils.InvalidState("patches.Rollback", "patch p1 is proposed, not applied")}
	r := newTestRouter(svc, nil)
	w := do(r, http.MethodPost, "/healing/rollback", `{"patchId":"p1","reason":"regression"}`, "secret")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "invalid_state", decode(t, w)["error"].(map[string]any)["kind"])
}

func TestReportDays(t *testing.T) {
	svc := &fakeService{}
	r := newTestRouter(svc, nil)

	w := do(r, http.MethodGet, "/healing/report", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 7, svc.reportDays)

	w = do(r, http.MethodGet, "/healing/report?days=30", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 30, svc.reportDays)

	for _, bad := range []string{"0", "91", "week"} {
		w = do(r, http.MethodGet, "/healing/report?days="+bad, "", "")
		assert.Equal(t, http.StatusBadRequest, w.Code, bad)
	}
}

func TestHistoryPaging(t *testing.T) {
	svc := &fakeService{}
	r := newTestRouter(svc, nil)

	w := do(r, http.MethodGet, "/healing/history?limit=5&offset=10", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.Page{Limit: 5, Offset: 10}, svc.page)
	body := decode(t, w)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(3), body["stats"].(map[string]any)["total"])

	w = do(r, http.MethodGet, "/healing/history?limit=-1", "", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAlertsFilterAndAck(t *testing.T) {
	svc := &fakeService{}
	r := newTestRouter(svc, nil)

	w := do(r, http.MethodGet, "/healing/alerts?acknowledged=false&limit=5", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, svc.alertFilter.Acknowledged)
	assert.False(t, *svc.alertFilter.Acknowledged)
	assert.Equal(t, 5, svc.alertFilter.Limit)

	w = do(r, http.MethodPost, "/healing/alerts/a1/ack", "", "secret")
	require.Equal(t, http.StatusOK, w.Code)
	alert := decode(t, w)["alert"].(map[string]any)
	assert.Equal(t, "alice", alert["acknowledgedBy"])
}

func TestPatchRoutes(t *testing.T) {
	r := newTestRouter(&fakeService{}, nil)

	w := do(r, http.MethodPost, "/healing/patches", `{"targetPath":"x.ts","newContent":"B"}`, "secret")
	assert.Equal(t, http.StatusCreated, w.Code)

	w = do(r, http.MethodPost, "/healing/patches/p1/apply", "", "secret")
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(r, http.MethodPost, "/healing/patches/p1/reject", `{"reason":"not needed"}`, "secret")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "not needed", decode(t, w)["patch"].(map[string]any)["failureReason"])

	w = do(r, http.MethodGet, "/healing/patches/missing", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHeartbeatAndHealthz(t *testing.T) {
	r := newTestRouter(&fakeService{}, pingErr{})
	w := do(r, http.MethodPost, "/healing/heartbeat", `{"source":"cron"}`, "")
	assert.Equal(t, http.StatusCreated, w.Code)

	w = do(r, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, w.Code)

	down := newTestRouter(&fakeService{}, pingErr{err: errors.New("database is locked")})
	w = do(down, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
