package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/JonMunkholm/tableload/internal/config"
	"github.com/JonMunkholm/tableload/internal/core"
	_ "github.com/JonMunkholm/tableload/internal/database/postgres"
	_ "github.com/JonMunkholm/tableload/internal/database/sqlite"
)

type testServer struct {
	srv       *Server
	dir       string
	uploadDir string
}

func newTestServer(t *testing.T, mutate func(*config.Config)) *testServer {
	t.Helper()
	dir := t.TempDir()
	uploadDir := t.TempDir()

	cfg := &config.Config{
		Server: config.ServerConfig{
			MaxConcurrent:  2,
			MaxWaitTime:    50 * time.Millisecond,
			HistorySize:    10,
			RequestTimeout: 5 * time.Second,
		},
		Ingest: config.IngestConfig{
			Delimiter:      "comma",
			Timeout:        time.Minute,
			MaxFileSize:    1 << 20,
			UploadDir:      uploadDir,
			AllowFilePaths: true,
		},
	}
	if mutate != nil {
		mutate(cfg)
	}

	profile := core.ConnectionProfile{Driver: "sqlite", Database: filepath.Join(dir, "web.db")}
	engine := core.NewEngine(core.WithSink(&core.MemorySink{}))
	return &testServer{srv: NewServer(cfg, engine, profile), dir: dir, uploadDir: uploadDir}
}

func (ts *testServer) file(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(ts.dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	ts.srv.Router().ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) postJSON(t *testing.T, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	return ts.do(req)
}

// apiRun is the subset of runView the tests look at.
type apiRun struct {
	RunID   string         `json:"run_id"`
	Status  string         `json:"status"`
	Rows    int64          `json:"rows"`
	Action  string         `json:"action"`
	Kind    string         `json:"error_kind"`
	Summary string         `json:"summary"`
	Error   *ErrorResponse `json:"failure"`
	// Code is set when the request was rejected before a run started.
	Code string `json:"code"`
}

func (r apiRun) errorCode() string {
	if r.Error != nil {
		return r.Error.Code
	}
	return r.Code
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestCreateIngestion_JSON(t *testing.T) {
	ts := newTestServer(t, nil)
	path := ts.file(t, "people.csv", "id,name\n1,ann\n2,bob\n")

	rec := ts.postJSON(t, "/api/ingestions", map[string]string{"file_path": path, "table": "people"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	run := decode[apiRun](t, rec)
	if run.Status != "success" || run.Rows != 2 || run.Action != "created" {
		t.Errorf("run = %+v, want success, 2 rows, created", run)
	}
	if !strings.Contains(run.Summary, "main.people") {
		t.Errorf("Summary = %q", run.Summary)
	}

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/api/ingestions/"+run.RunID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET run status = %d", rec.Code)
	}
	if got := decode[apiRun](t, rec); got.RunID != run.RunID || got.Rows != 2 {
		t.Errorf("GET run = %+v", got)
	}

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/api/ingestions", nil))
	list := decode[struct {
		Ingestions []apiRun `json:"ingestions"`
	}](t, rec)
	if len(list.Ingestions) != 1 || list.Ingestions[0].RunID != run.RunID {
		t.Errorf("list = %+v", list.Ingestions)
	}
}

func TestCreateIngestion_Multipart(t *testing.T) {
	ts := newTestServer(t, nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "orders.txt")
	if err != nil {
		t.Fatal(err)
	}
	fw.Write([]byte("id|total\n1|9.50\n2|3.25\n3|1.00\n"))
	mw.WriteField("table", "main.orders")
	mw.WriteField("delimiter", "pipe")
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/ingestions", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := ts.do(req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if run := decode[apiRun](t, rec); run.Rows != 3 {
		t.Errorf("Rows = %d, want 3", run.Rows)
	}

	entries, err := os.ReadDir(ts.uploadDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("staged upload left behind: %v", entries)
	}
}

func TestCreateIngestion_SlowUploadOutlivesReadTimeout(t *testing.T) {
	ts := newTestServer(t, nil)
	hs := httptest.NewUnstartedServer(ts.srv.Router())
	hs.Config.ReadTimeout = 100 * time.Millisecond
	hs.Start()
	defer hs.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		mw.WriteField("table", "slow")
		fw, err := mw.CreateFormFile("file", "slow.csv")
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		fw.Write([]byte("a,b\n1,2\n"))
		time.Sleep(400 * time.Millisecond)
		fw.Write([]byte("3,4\n"))
		mw.Close()
		pw.Close()
	}()

	resp, err := http.Post(hs.URL+"/api/ingestions", mw.FormDataContentType(), pr)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %s", resp.StatusCode, body)
	}
	var run apiRun
	if err := json.Unmarshal(body, &run); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if run.Rows != 2 {
		t.Errorf("Rows = %d, want 2", run.Rows)
	}
}

func TestCreateIngestion_MultipartWithoutFile(t *testing.T) {
	ts := newTestServer(t, nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("table", "orders")
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/ingestions", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := ts.do(req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestCreateIngestion_Failures(t *testing.T) {
	tests := []struct {
		name       string
		content    string
		body       map[string]string
		wantStatus int
		wantCode   string
	}{
		{
			name:       "empty file",
			content:    "",
			body:       map[string]string{"table": "t1"},
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "FILE003",
		},
		{
			name:       "unsafe header",
			content:    "a;b,c\n1,2\n",
			body:       map[string]string{"table": "t1"},
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "IDENT001",
		},
		{
			name:       "ragged row",
			content:    "a,b\n1,2\n3\n",
			body:       map[string]string{"table": "t1"},
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "LOAD001",
		},
		{
			name:       "bad delimiter",
			content:    "a,b\n",
			body:       map[string]string{"table": "t1", "delimiter": ";"},
			wantStatus: http.StatusBadRequest,
			wantCode:   "REQ001",
		},
		{
			name:       "missing table",
			content:    "a,b\n",
			body:       map[string]string{},
			wantStatus: http.StatusBadRequest,
			wantCode:   "REQ001",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, nil)
			tt.body["file_path"] = ts.file(t, "in.csv", tt.content)

			rec := ts.postJSON(t, "/api/ingestions", tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body)
			}
			if got := decode[apiRun](t, rec).errorCode(); got != tt.wantCode {
				t.Errorf("error code = %q, want %s", got, tt.wantCode)
			}
		})
	}
}

func TestCreateIngestion_InvalidJSON(t *testing.T) {
	ts := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/ingestions", strings.NewReader(`{"file_path":`))
	req.Header.Set("Content-Type", "application/json")
	rec := ts.do(req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if resp := decode[ErrorResponse](t, rec); resp.Code != "REQ001" {
		t.Errorf("code = %q, want REQ001", resp.Code)
	}
}

func TestCreateIngestion_FilePathsOffByDefault(t *testing.T) {
	defaults, err := config.LoadFrom(func(key string) (string, bool) {
		if key == "DB_NAME" {
			return "app", true
		}
		return "", false
	})
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	ts := newTestServer(t, func(c *config.Config) { c.Ingest.AllowFilePaths = defaults.Ingest.AllowFilePaths })
	path := ts.file(t, "in.csv", "a\n1\n")

	rec := ts.postJSON(t, "/api/ingestions", map[string]string{"file_path": path, "table": "t1"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if resp := decode[ErrorResponse](t, rec); resp.Code != "REQ001" {
		t.Errorf("code = %q, want REQ001", resp.Code)
	}
	if rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/ingestions", nil)); strings.Contains(rec.Body.String(), path) {
		t.Errorf("history mentions %s after a refused request", path)
	}
}

func TestCreateIngestion_TableBusy(t *testing.T) {
	ts := newTestServer(t, nil)
	path := ts.file(t, "in.csv", "a\n1\n")

	unlock, err := ts.srv.limiter.LockTable(core.TableIdentifier{Schema: "main", Name: "t1"})
	if err != nil {
		t.Fatal(err)
	}
	defer unlock()

	rec := ts.postJSON(t, "/api/ingestions", map[string]string{"file_path": path, "table": "T1"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	if resp := decode[ErrorResponse](t, rec); resp.Code != "BUSY002" {
		t.Errorf("code = %q, want BUSY002", resp.Code)
	}
}

func TestCreateIngestion_TooManyRuns(t *testing.T) {
	ts := newTestServer(t, func(c *config.Config) { c.Server.MaxConcurrent = 1 })
	path := ts.file(t, "in.csv", "a\n1\n")

	if !ts.srv.limiter.TryAcquire() {
		t.Fatal("TryAcquire failed")
	}
	defer ts.srv.limiter.Release()

	rec := ts.postJSON(t, "/api/ingestions", map[string]string{"file_path": path, "table": "t1"})
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}
	if got := ts.srv.limiter.Status().BusyTables; len(got) != 0 {
		t.Errorf("table lock not released: %v", got)
	}
}

func TestGetIngestion_NotFound(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/ingestions/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestCheckConnection(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(httptest.NewRequest(http.MethodPost, "/api/connection/check", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}

	ts.srv.profile = core.ConnectionProfile{Driver: "sqlite"}
	rec = ts.do(httptest.NewRequest(http.MethodPost, "/api/connection/check", nil))
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
	if resp := decode[ErrorResponse](t, rec); resp.Kind != string(core.KindConnection) {
		t.Errorf("kind = %q, want %s", resp.Kind, core.KindConnection)
	}
}

func TestAPIKeyAuth(t *testing.T) {
	ts := newTestServer(t, func(c *config.Config) {
		c.Security = config.SecurityConfig{RequireAPIKey: true, APIKeys: []string{"secret"}}
	})

	tests := []struct {
		name string
		key  string
		want int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong", "nope", http.StatusForbidden},
		{"valid", "secret", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/drivers", nil)
			if tt.key != "" {
				req.Header.Set("X-API-Key", tt.key)
			}
			if rec := ts.do(req); rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}

	if rec := ts.do(httptest.NewRequest(http.MethodGet, "/healthz", nil)); rec.Code != http.StatusOK {
		t.Errorf("healthz status = %d, want 200 without a key", rec.Code)
	}
}

func TestDashboard(t *testing.T) {
	ts := newTestServer(t, nil)
	path := ts.file(t, "in.csv", "a\n1\n")
	ts.postJSON(t, "/api/ingestions", map[string]string{"file_path": path, "table": "dash"})

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "main.dash") {
		t.Error("dashboard does not list the run")
	}
	if rec.Header().Get("X-Frame-Options") != "DENY" {
		t.Error("security headers missing")
	}
}

func TestRateLimit(t *testing.T) {
	ts := newTestServer(t, func(c *config.Config) { c.Server.RateLimit = 2 })
	defer ts.srv.rateLimiter.Stop()

	var last *httptest.ResponseRecorder
	for i, want := range []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests} {
		last = ts.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
		if last.Code != want {
			t.Errorf("request %d: status = %d, want %d", i, last.Code, want)
		}
	}
	if last.Header().Get("Retry-After") == "" {
		t.Error("429 without Retry-After")
	}
	if resp := decode[ErrorResponse](t, last); resp.Code != "RATE001" {
		t.Errorf("code = %q, want RATE001", resp.Code)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&core.Error{Kind: core.KindRequest}, http.StatusBadRequest},
		{&core.Error{Kind: core.KindEmptyFile}, http.StatusUnprocessableEntity},
		{&core.Error{Kind: core.KindConnection}, http.StatusBadGateway},
		{&core.Error{Kind: core.KindCancelled}, http.StatusGatewayTimeout},
		{&core.Error{Kind: core.KindTransaction}, http.StatusInternalServerError},
		{core.ErrTableBusy, http.StatusConflict},
		{core.ErrTooManyRuns, http.StatusServiceUnavailable},
		{errors.New("other"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
