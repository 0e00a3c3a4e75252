package server

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/Sternrassler/batch-api-runner/internal/config"
	"github.com/Sternrassler/batch-api-runner/internal/testutil"
	"github.com/Sternrassler/batch-api-runner/pkg/catalog"
	"github.com/Sternrassler/batch-api-runner/pkg/export"
	"github.com/Sternrassler/batch-api-runner/pkg/progress"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("", nil)
	require.NoError(t, err)
	cfg.Fetch.Timeout = 2 * time.Second
	cfg.Fetch.Retries = 1
	cfg.Fetch.Backoff = 0
	return cfg
}

func newTestServer(t *testing.T, opts ...Option) *Server {
	t.Helper()
	srv, err := New(testConfig(t), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv
}

func postBatch(t *testing.T, srv *Server, query url.Values, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/batches?"+query.Encode(), strings.NewReader(body))
	req.Header.Set("Content-Type", "text/csv")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

type checkerFunc func(ctx context.Context) error

func (f checkerFunc) CheckHealth(ctx context.Context) error { return f(ctx) }

func TestHealth(t *testing.T) {
	srv := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Equal(t, "ok", body.Status)
}

func TestHealth_Degraded(t *testing.T) {
	srv := newTestServer(t, WithHealthChecker("redis", checkerFunc(func(context.Context) error {
		return errors.New("connection refused")
	})))

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Equal(t, "degraded", body.Status)
	require.Equal(t, "connection refused", body.Checks["redis"])
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "batch_inflight_requests")
}

func TestNotFound(t *testing.T) {
	srv := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/does-not-exist", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	var body ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.NotEmpty(t, body.Error)
}

func TestBatch_CSV(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetResponse("1", testutil.NewJSONResponse(testutil.DispositionBody("555", "A", "B", "2024-01-01")))
	mock.SetResponse("2", testutil.NewNotFoundResponse())

	var updates int64
	srv := newTestServer(t, WithReporter(progress.ReporterFunc(func(context.Context, progress.Update) {
		atomic.AddInt64(&updates, 1)
	})))

	rec := postBatch(t, srv, url.Values{"prefix": {mock.ItemPrefix()}}, "id,name\n1,alpha\n2,beta\n")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	require.NotEmpty(t, rec.Header().Get("X-Batch-ID"))
	require.Equal(t, "2", rec.Header().Get("X-Batch-Total"))
	require.Equal(t, "1", rec.Header().Get("X-Batch-HTTP-Failed"))

	lines, err := csv.NewReader(rec.Body).ReadAll()
	require.NoError(t, err)
	require.Len(t, lines, 3)
	require.Equal(t, "id", lines[0][0])
	require.Equal(t, "name", lines[0][len(lines[0])-1])

	// Input order regardless of completion order.
	require.Equal(t, []string{"1", "200", "A", "B", "2024-01-01", "555"}, lines[1][:6])
	require.Equal(t, "alpha", lines[1][len(lines[1])-1])
	require.Equal(t, "2", lines[2][0])
	require.Equal(t, "404", lines[2][1])

	require.Equal(t, int64(2), atomic.LoadInt64(&updates))
}

func TestBatch_JSON(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()

	srv := newTestServer(t)
	rec := postBatch(t, srv, url.Values{
		"prefix":  {mock.ItemPrefix()},
		"suffix":  {"/summary"},
		"format":  {"json"},
		"workers": {"2"},
	}, "id\n7\n8\n9\n")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "application/x-ndjson", rec.Header().Get("Content-Type"))

	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	require.Len(t, lines, 3)
	for i, line := range lines {
		var row map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &row))
		require.Equal(t, []string{"7", "8", "9"}[i], row["id"])
		require.Contains(t, row["full_url"], "/summary")
	}
}

func TestBatch_Endpoint(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()

	cat, err := catalog.Parse([]byte("endpoints:\n  - name: local\n    prefix: " + mock.ItemPrefix() + "\n    timeout: 5s\n"))
	require.NoError(t, err)

	srv := newTestServer(t, WithCatalog(cat))
	rec := postBatch(t, srv, url.Values{"endpoint": {"local"}, "format": {"markdown"}}, "id\n1\n")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Contains(t, rec.Body.String(), "| id |")
	require.Equal(t, 1, mock.RequestsFor("1"))

	rec = postBatch(t, srv, url.Values{"endpoint": {"unknown"}}, "id\n1\n")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBatch_BadRequests(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name  string
		query url.Values
		body  string
	}{
		{name: "missing id column", query: url.Values{"prefix": {"http://127.0.0.1:1/"}}, body: "name\nalpha\n"},
		{name: "missing prefix", query: url.Values{}, body: "id\n1\n"},
		{name: "workers not a number", query: url.Values{"prefix": {"http://127.0.0.1:1/"}, "workers": {"many"}}, body: "id\n1\n"},
		{name: "workers out of range", query: url.Values{"prefix": {"http://127.0.0.1:1/"}, "workers": {"21"}}, body: "id\n1\n"},
		{name: "zero workers", query: url.Values{"prefix": {"http://127.0.0.1:1/"}, "workers": {"0"}}, body: "id\n1\n"},
		{name: "unknown format", query: url.Values{"prefix": {"http://127.0.0.1:1/"}, "format": {"pdf"}}, body: "id\n1\n"},
		{name: "endpoint without catalog", query: url.Values{"endpoint": {"x"}}, body: "id\n1\n"},
		{name: "endpoint and prefix", query: url.Values{"endpoint": {"x"}, "prefix": {"http://a/"}}, body: "id\n1\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postBatch(t, srv, tt.query, tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

			var body ErrorResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			require.NotEmpty(t, body.Error)
		})
	}
}

func TestBatch_EmptyUpload(t *testing.T) {
	srv := newTestServer(t)

	rec := postBatch(t, srv, url.Values{"prefix": {"http://127.0.0.1:1/"}}, "id\n")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "0", rec.Header().Get("X-Batch-Total"))
}

func TestBatch_XLSX(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetResponse("1", testutil.NewJSONResponse(testutil.DispositionBody("555", "A", "B", "2024-01-01")))

	// Workbook in, workbook out.
	upload := excelize.NewFile()
	defer upload.Close()
	sheet := upload.GetSheetName(0)
	require.NoError(t, upload.SetSheetRow(sheet, "A1", &[]any{"id", "name"}))
	require.NoError(t, upload.SetSheetRow(sheet, "A2", &[]any{1, "alpha"}))
	require.NoError(t, upload.SetSheetRow(sheet, "A3", &[]any{2, "beta"}))
	payload, err := upload.WriteToBuffer()
	require.NoError(t, err)

	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost,
		"/v1/batches?"+url.Values{"prefix": {mock.ItemPrefix()}, "format": {"xlsx"}}.Encode(), payload)
	req.Header.Set("Content-Type", export.FormatXLSX.ContentType())
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, export.FormatXLSX.ContentType(), rec.Header().Get("Content-Type"))
	require.Equal(t, "2", rec.Header().Get("X-Batch-Total"))

	result, err := excelize.OpenReader(rec.Body)
	require.NoError(t, err)
	defer result.Close()

	rows, err := result.GetRows(export.SheetName)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, []string{"1", "200", "A", "B", "2024-01-01", "555"}, rows[1][:6])
	require.Equal(t, "beta", rows[2][len(rows[2])-1])
}

func TestBatch_XLSXQueryParameter(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()

	upload := excelize.NewFile()
	defer upload.Close()
	require.NoError(t, upload.SetSheetRow(upload.GetSheetName(0), "A1", &[]any{"id"}))
	require.NoError(t, upload.SetSheetRow(upload.GetSheetName(0), "A2", &[]any{"5"}))
	payload, err := upload.WriteToBuffer()
	require.NoError(t, err)

	srv := newTestServer(t)
	rec := postBatch(t, srv, url.Values{"prefix": {mock.ItemPrefix()}, "input": {"xlsx"}}, payload.String())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	lines, err := csv.NewReader(rec.Body).ReadAll()
	require.NoError(t, err)
	require.Len(t, lines, 2)
	require.Equal(t, "5", lines[1][0])
}
