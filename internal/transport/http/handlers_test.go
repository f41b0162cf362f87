package transporthttp

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/playbacktelemetry/internal/domain"
	"example.com/playbacktelemetry/internal/ingest"
)

type stubIngester struct {
	res   ingest.Result
	err   error
	calls int
	body  string
}

func (s *stubIngester) Ingest(_ context.Context, body []byte) (ingest.Result, error) {
	s.calls++
	s.body = string(body)
	return s.res, s.err
}

type stubReporter struct {
	rep     *domain.Report
	sum     domain.Summary
	err     error
	gotFilt domain.ReportFilter
}

func (s *stubReporter) Report(_ context.Context, f domain.ReportFilter) (*domain.Report, error) {
	s.gotFilt = f
	return s.rep, s.err
}

func (s *stubReporter) GlobalStats(context.Context) (domain.Summary, error) {
	return s.sum, s.err
}

type stubStore struct {
	readyErr error
	purged   int64
	calls    int
}

func (s *stubStore) Ready(context.Context) error { return s.readyErr }

func (s *stubStore) PurgeEvents(context.Context) (int64, error) {
	s.calls++
	return s.purged, nil
}

func newDeps() (*ServerDeps, *stubIngester, *stubReporter, *stubStore) {
	ing := &stubIngester{}
	rep := &stubReporter{}
	st := &stubStore{}
	return &ServerDeps{
		Ingestor:     ing,
		Reports:      rep,
		DB:           st,
		MaxBodyBytes: 1 << 20,
		CORSOrigins:  []string{"*"},
		Auth:         AuthConfig{Mode: "none"},
	}, ing, rep, st
}

func do(t *testing.T, h http.Handler, method, target, body string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

const ingestPath = "/api/v1/playback-events"

func TestIngest_Success(t *testing.T) {
	d, ing, _, _ := newDeps()
	ing.res = ingest.Result{Inserted: 2}

	rec := do(t, d.Router(), http.MethodPost, ingestPath, `[{},{}]`, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	assert.EqualValues(t, 2, body["inserted"])
	assert.Contains(t, body["message"], "2 playback event")
	assert.Equal(t, `[{},{}]`, ing.body)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestIngest_MultiStatus(t *testing.T) {
	d, ing, _, _ := newDeps()
	ing.res = ingest.Result{Inserted: 3, Failed: 2}

	rec := do(t, d.Router(), http.MethodPost, ingestPath, `[]`, nil)

	require.Equal(t, http.StatusMultiStatus, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	assert.EqualValues(t, 3, body["inserted"])
	assert.EqualValues(t, 2, body["errors"])
	assert.EqualValues(t, 2, body["failed"])
}

func TestIngest_ValidationFailure(t *testing.T) {
	d, ing, _, _ := newDeps()
	ing.err = &domain.ValidationError{
		Details: []domain.RecordError{{Index: 1, Errors: []string{"end_time must be after start_time"}}},
		Failed:  1,
		Total:   3,
	}

	rec := do(t, d.Router(), http.MethodPost, ingestPath, `[]`, nil)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "Validation failed", body["error"])
	assert.Equal(t, "1 of 3 events failed validation", body["message"])
	details := body["details"].([]any)
	require.Len(t, details, 1)
	first := details[0].(map[string]any)
	assert.EqualValues(t, 1, first["index"])
	assert.Equal(t, []any{"end_time must be after start_time"}, first["errors"])
}

func TestIngest_MalformedPayloadHasEmptyDetails(t *testing.T) {
	d, ing, _, _ := newDeps()
	ing.err = &domain.ValidationError{Reason: "request body must not be empty"}

	rec := do(t, d.Router(), http.MethodPost, ingestPath, ``, nil)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, []any{}, body["details"])
	assert.Equal(t, "request body must not be empty", body["message"])
}

func TestIngest_UnexpectedFailure(t *testing.T) {
	d, ing, _, _ := newDeps()
	ing.err = &ingest.PersistenceError{Err: errors.New("connection refused")}

	rec := do(t, d.Router(), http.MethodPost, ingestPath, `{}`, nil)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "Failed to record playback events", body["error"])
	assert.Contains(t, body["message"], "connection refused")
	assert.EqualValues(t, 0, body["inserted"])
}

func TestIngest_UnexpectedFailureReportsCommittedRows(t *testing.T) {
	d, ing, _, _ := newDeps()
	ing.err = &ingest.PersistenceError{Inserted: 500, Err: errors.New("connection reset")}

	rec := do(t, d.Router(), http.MethodPost, ingestPath, `[]`, nil)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decode(t, rec)
	assert.EqualValues(t, 500, body["inserted"])
	assert.Contains(t, body["message"], "500 inserted before failure")
}

func TestIngest_RequiresJSONContentType(t *testing.T) {
	d, ing, _, _ := newDeps()
	req := httptest.NewRequest(http.MethodPost, ingestPath, strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()

	d.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	assert.Zero(t, ing.calls)
}

func TestIngest_BodyTooLarge(t *testing.T) {
	d, ing, _, _ := newDeps()
	d.MaxBodyBytes = 8

	rec := do(t, d.Router(), http.MethodPost, ingestPath, `{"device_id":"a-long-device"}`, nil)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Zero(t, ing.calls)
}

func TestAuth_APIKey(t *testing.T) {
	d, ing, _, _ := newDeps()
	d.Auth = AuthConfig{Mode: "api_key", APIKeys: map[string]struct{}{"secret-key": {}}}
	ing.res = ingest.Result{Inserted: 1}
	h := d.Router()

	rec := do(t, h, http.MethodPost, ingestPath, `{}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Unauthorized", decode(t, rec)["error"])

	rec = do(t, h, http.MethodPost, ingestPath, `{}`, map[string]string{"X-API-Key": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, h, http.MethodPost, ingestPath, `{}`, map[string]string{"X-API-Key": "secret-key"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, ing.calls)
}

func TestAuth_JWT(t *testing.T) {
	secret := []byte("0123456789abcdef0123456789abcdef")
	d, _, rep, _ := newDeps()
	d.Auth = AuthConfig{Mode: "jwt", JWTSecret: secret}
	rep.rep = &domain.Report{}
	h := d.Router()

	sign := func(method jwt.SigningMethod, key any, exp time.Time) string {
		tok, err := jwt.NewWithClaims(method, jwt.MapClaims{"sub": "scheduler", "exp": exp.Unix()}).SignedString(key)
		require.NoError(t, err)
		return tok
	}

	rec := do(t, h, http.MethodGet, ingestPath+"/report", ``, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	expired := sign(jwt.SigningMethodHS256, secret, time.Now().Add(-time.Hour))
	rec = do(t, h, http.MethodGet, ingestPath+"/report", ``, map[string]string{"Authorization": "Bearer " + expired})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	otherKey := sign(jwt.SigningMethodHS256, []byte("another-secret-another-secret-xx"), time.Now().Add(time.Hour))
	rec = do(t, h, http.MethodGet, ingestPath+"/report", ``, map[string]string{"Authorization": "Bearer " + otherKey})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	valid := sign(jwt.SigningMethodHS256, secret, time.Now().Add(time.Hour))
	rec = do(t, h, http.MethodGet, ingestPath+"/report", ``, map[string]string{"Authorization": "Bearer " + valid})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReport_ParsesFilter(t *testing.T) {
	d, _, rep, _ := newDeps()
	rep.rep = &domain.Report{
		ByAsset:    []domain.AssetStats{},
		ByDevice:   []domain.DeviceStats{},
		ByPlaylist: []domain.PlaylistStats{},
		Pagination: domain.NewPagination(2, 10, 25),
	}

	rec := do(t, d.Router(), http.MethodGet,
		ingestPath+"/report?device_id=screen-1&date_from=2024-05-01&page=2&limit=10", ``, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "screen-1", rep.gotFilt.DeviceID)
	require.NotNil(t, rep.gotFilt.DateFrom)
	assert.Equal(t, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), *rep.gotFilt.DateFrom)
	assert.Equal(t, 2, rep.gotFilt.Page)

	body := decode(t, rec)
	for _, key := range []string{"summary", "by_asset", "by_device", "by_playlist", "pagination"} {
		assert.Contains(t, body, key)
	}
	pg := body["pagination"].(map[string]any)
	assert.EqualValues(t, 3, pg["total_pages"])
	assert.Equal(t, true, pg["has_next"])
	assert.Equal(t, true, pg["has_prev"])
}

func TestReport_InvalidDate(t *testing.T) {
	d, _, rep, _ := newDeps()
	rep.rep = &domain.Report{}

	rec := do(t, d.Router(), http.MethodGet, ingestPath+"/report?date_to=yesterday", ``, nil)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "Invalid filter", body["error"])
	assert.Contains(t, body["message"], "date_to")
}

func TestReport_Failure(t *testing.T) {
	d, _, rep, _ := newDeps()
	rep.err = errors.New("compute report: timeout")

	rec := do(t, d.Router(), http.MethodGet, ingestPath+"/report", ``, nil)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, decode(t, rec)["message"], "timeout")
}

func TestStats(t *testing.T) {
	d, _, rep, _ := newDeps()
	rep.sum = domain.Summary{TotalPlays: 7, TotalDuration: 70}

	rec := do(t, d.Router(), http.MethodGet, ingestPath+"/stats", ``, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.EqualValues(t, 7, body["total_plays"])
	assert.EqualValues(t, 70, body["total_duration"])
}

func TestReport_RateLimited(t *testing.T) {
	d, _, rep, _ := newDeps()
	d.RateLimitPerMin = 2
	rep.rep = &domain.Report{}
	h := d.Router()

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, ingestPath+"/report", ``, nil).Code)
	}
	rec := do(t, h, http.MethodGet, ingestPath+"/report", ``, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// ingestion is not rate limited
	assert.NotEqual(t, http.StatusTooManyRequests, do(t, h, http.MethodPost, ingestPath, `{}`, nil).Code)
}

func TestPurge_OnlyWhenEnabled(t *testing.T) {
	d, _, _, st := newDeps()
	st.purged = 12

	rec := do(t, d.Router(), http.MethodDelete, "/api/v1/admin/playback-events", ``, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Zero(t, st.calls)

	d.PurgeEnabled = true
	rec = do(t, d.Router(), http.MethodDelete, "/api/v1/admin/playback-events", ``, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 12, decode(t, rec)["deleted"])
	assert.Equal(t, 1, st.calls)
}

func TestHealthAndReadiness(t *testing.T) {
	d, _, _, st := newDeps()
	h := d.Router()

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/healthz", ``, nil).Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/readyz", ``, nil).Code)

	st.readyErr = errors.New("dial tcp: refused")
	assert.Equal(t, http.StatusServiceUnavailable, do(t, h, http.MethodGet, "/readyz", ``, nil).Code)
}

func TestMetricsEndpoint(t *testing.T) {
	d, _, _, _ := newDeps()
	h := d.Router()
	do(t, h, http.MethodGet, "/healthz", ``, nil)

	rec := do(t, h, http.MethodGet, "/metrics", ``, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "api_requests_total")
}

func TestRequestIDPropagated(t *testing.T) {
	d, _, _, _ := newDeps()

	rec := do(t, d.Router(), http.MethodGet, "/healthz", ``, map[string]string{"X-Request-ID": "req-42"})

	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
}
