package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/tableload/internal/core"
	"github.com/JonMunkholm/tableload/internal/delimited"
	"github.com/JonMunkholm/tableload/internal/logging"
	"github.com/JonMunkholm/tableload/internal/web/middleware"
	"github.com/JonMunkholm/tableload/internal/web/templates"
)

// maxJSONBody caps the size of a JSON ingestion request.
const maxJSONBody = 1 << 20

// ingestionRequest is the body of POST /api/ingestions. Multipart uploads
// carry the same fields as form values plus a "file" part.
type ingestionRequest struct {
	FilePath  string `json:"file_path"`
	Table     string `json:"table"`
	Schema    string `json:"schema,omitempty"`
	Delimiter string `json:"delimiter,omitempty"`
	Encoding  string `json:"encoding,omitempty"`
}

// runView is an outcome as returned by the API.
type runView struct {
	core.Outcome
	Summary string         `json:"summary"`
	Error   *ErrorResponse `json:"failure,omitempty"`
}

func newRunView(o core.Outcome) runView {
	v := runView{Outcome: o, Summary: o.Summary()}
	if err := o.Err(); err != nil {
		v.Error = newErrorResponse(err)
	}
	return v
}

var notFoundMessage = core.UserMessage{
	Message: "No ingestion with that id",
	Action:  "Check the run id; only recent runs are kept",
	Code:    "NOTFOUND",
}

// handleCreateIngestion runs one ingestion and responds when it is done.
func (s *Server) handleCreateIngestion(w http.ResponseWriter, r *http.Request) {
	req, cleanup, err := s.decodeIngestion(w, r)
	if cleanup != nil {
		defer cleanup()
	}
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}

	unlock, err := s.limiter.LockTable(s.engine.ResolveTable(req.Profile, req.Table))
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	defer unlock()

	if err := s.limiter.Acquire(r.Context()); err != nil {
		if errors.Is(err, core.ErrTooManyRuns) {
			w.Header().Set("Retry-After", "5")
		}
		s.respondError(w, r, err, statusFor(err))
		return
	}
	defer s.limiter.Release()

	ctx := r.Context()
	if d := s.cfg.Ingest.Timeout; d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	out := s.engine.Run(ctx, req)
	s.history.Add(out)

	logger := logging.FromContext(r.Context()).With("run_id", out.RunID)
	status := http.StatusOK
	if !out.Succeeded() {
		status = statusFor(out.Err())
		logger.Warn("ingestion failed", "table", out.Table.String(), "kind", out.Kind, "failed_at", out.FailedAt)
	} else {
		logger.Info("ingestion committed", "table", out.Table.String(), "rows", out.Rows, "action", out.Action)
	}
	w.Header().Set("X-Request-ID", requestID(r))
	w.Header().Set(middleware.RunIDHeader, out.RunID)
	writeJSON(w, status, newRunView(out))
}

// decodeIngestion builds the engine request from JSON or a multipart upload.
// cleanup, when non-nil, removes the staged upload.
func (s *Server) decodeIngestion(w http.ResponseWriter, r *http.Request) (core.IngestionRequest, func(), error) {
	var (
		body    ingestionRequest
		cleanup func()
	)

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		s.extendReadDeadline(w, r)
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Ingest.MaxFileSize)
		b, path, err := s.stageUpload(r)
		if path != "" {
			cleanup = func() { os.Remove(path) }
		}
		if err != nil {
			return core.IngestionRequest{}, cleanup, err
		}
		body = b
		body.FilePath = path
	} else {
		if !s.cfg.Ingest.AllowFilePaths {
			return core.IngestionRequest{}, nil, requestError("server file paths are disabled; upload the file instead")
		}
		dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&body); err != nil {
			return core.IngestionRequest{}, nil, requestError("invalid JSON body: %v", err)
		}
	}

	req, err := s.buildRequest(body)
	return req, cleanup, err
}

// extendReadDeadline replaces SERVER_READ_TIMEOUT with the ingestion
// timeout for an upload body. Zero INGEST_TIMEOUT clears the deadline.
func (s *Server) extendReadDeadline(w http.ResponseWriter, r *http.Request) {
	var deadline time.Time
	if d := s.cfg.Ingest.Timeout; d > 0 {
		deadline = time.Now().Add(d)
	}
	err := http.NewResponseController(w).SetReadDeadline(deadline)
	if err != nil && !errors.Is(err, http.ErrNotSupported) {
		logging.FromContext(r.Context()).Warn("failed to extend upload read deadline", "error", err)
	}
}

// stageUpload streams the multipart body, copying the "file" part into
// UploadDir. The returned path is set whenever a temp file was created.
func (s *Server) stageUpload(r *http.Request) (ingestionRequest, string, error) {
	var body ingestionRequest
	mr, err := r.MultipartReader()
	if err != nil {
		return body, "", requestError("invalid multipart form: %v", err)
	}

	var path string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return body, path, requestError("file too large or invalid form: %w", err)
		}

		switch part.FormName() {
		case "file":
			if path != "" {
				part.Close()
				return body, path, requestError("only one file may be uploaded")
			}
			path, err = s.saveUpload(part)
			part.Close()
			if err != nil {
				return body, path, err
			}
		case "table", "schema", "delimiter", "encoding":
			v, err := io.ReadAll(io.LimitReader(part, 4096))
			part.Close()
			if err != nil {
				return body, path, requestError("reading form field %s: %v", part.FormName(), err)
			}
			setFormField(&body, part.FormName(), strings.TrimSpace(string(v)))
		default:
			part.Close()
		}
	}

	if path == "" {
		return body, "", requestError("no file provided")
	}
	return body, path, nil
}

func setFormField(b *ingestionRequest, name, v string) {
	switch name {
	case "table":
		b.Table = v
	case "schema":
		b.Schema = v
	case "delimiter":
		b.Delimiter = v
	case "encoding":
		b.Encoding = v
	}
}

func (s *Server) saveUpload(part *multipart.Part) (string, error) {
	ext := ".csv"
	if e := filepath.Ext(part.FileName()); e != "" && len(e) <= 8 {
		ext = e
	}
	f, err := os.CreateTemp(s.cfg.Ingest.UploadDir, "tableload-*"+ext)
	if err != nil {
		return "", fmt.Errorf("staging upload: %w", err)
	}
	path := f.Name()
	if _, err := io.Copy(f, part); err != nil {
		f.Close()
		return path, requestError("file too large or upload interrupted: %w", err)
	}
	if err := f.Close(); err != nil {
		return path, fmt.Errorf("staging upload: %w", err)
	}
	return path, nil
}

// buildRequest applies the server defaults to body.
func (s *Server) buildRequest(body ingestionRequest) (core.IngestionRequest, error) {
	table := core.TableIdentifier{Schema: body.Schema, Name: strings.TrimSpace(body.Table)}
	if table.Schema == "" {
		if schema, name, ok := strings.Cut(table.Name, "."); ok {
			table = core.TableIdentifier{Schema: schema, Name: name}
		}
	}
	if table.Schema == "" {
		table.Schema = s.cfg.Ingest.DefaultSchema
	}

	d := s.cfg.Ingest.Delim()
	if body.Delimiter != "" {
		var err error
		if d, err = delimited.ParseDelimiter(body.Delimiter); err != nil {
			return core.IngestionRequest{}, requestError("%v", err)
		}
	}

	encoding := body.Encoding
	if encoding == "" {
		encoding = s.cfg.Ingest.Encoding
	}

	return core.IngestionRequest{
		FilePath:  body.FilePath,
		Table:     table,
		Delimiter: d,
		Encoding:  encoding,
		Profile:   s.profile,
	}, nil
}

func requestError(format string, args ...any) error {
	return &core.Error{Kind: core.KindRequest, Err: fmt.Errorf(format, args...)}
}

// handleListIngestions returns recent runs, newest first.
func (s *Server) handleListIngestions(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r, "limit", 50)
	runs := s.history.List(limit)
	views := make([]runView, len(runs))
	for i, o := range runs {
		views[i] = newRunView(o)
	}
	writeJSON(w, http.StatusOK, map[string]any{"ingestions": views})
}

// handleGetIngestion returns one run from history.
func (s *Server) handleGetIngestion(w http.ResponseWriter, r *http.Request) {
	out, ok := s.history.Get(chi.URLParam(r, "runID"))
	if !ok {
		respondErrorJSON(w, notFoundMessage, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, newRunView(out))
}

// handleCheckConnection validates the configured target.
func (s *Server) handleCheckConnection(w http.ResponseWriter, r *http.Request) {
	ok, err := s.engine.Validate(r.Context(), s.profile)
	if !ok {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "target": s.profile.String()})
}

func (s *Server) handleListDrivers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"drivers":      core.Drivers(),
		"capabilities": core.DriverCapabilities(),
		"encodings":    delimited.Encodings(),
		"default":      s.profile.Driver,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"target":  s.profile.String(),
		"limiter": s.limiter.Status(),
		"history": s.history.Len(),
	})
}

// handleDashboard renders the status page.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	page := templates.StatusPage(templates.StatusData{
		Target:  s.profile.String(),
		Drivers: core.Drivers(),
		Limiter: s.limiter.Status(),
		Runs:    s.history.List(20),
	})
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := page.Render(r.Context(), w); err != nil {
		logging.FromContext(r.Context()).Error("render status page", "error", err)
	}
}

// parseIntParam reads a positive integer query parameter.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return defaultVal
	}
	return n
}
