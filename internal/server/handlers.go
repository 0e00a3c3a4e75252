package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"mime"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/batch-api-runner/pkg/batch"
	"github.com/Sternrassler/batch-api-runner/pkg/export"
	"github.com/Sternrassler/batch-api-runner/pkg/input"
)

// HealthResponse is the /health body.
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	if len(s.checkers) > 0 {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		resp.Checks = make(map[string]string, len(s.checkers))
		for name, checker := range s.checkers {
			if err := checker.CheckHealth(ctx); err != nil {
				resp.Checks[name] = err.Error()
				resp.Status = "degraded"
				continue
			}
			resp.Checks[name] = "ok"
		}
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// batchRequest is the parsed query of POST /v1/batches.
type batchRequest struct {
	prefix          string
	suffix          string
	endpoint        string
	workers         int
	format          export.Format
	completionOrder bool
	spreadsheet     bool
	input           input.Options
}

func (s *Server) parseBatchRequest(r *http.Request) (batchRequest, error) {
	q := r.URL.Query()
	req := batchRequest{
		prefix:   q.Get("prefix"),
		suffix:   q.Get("suffix"),
		endpoint: q.Get("endpoint"),
		workers:  s.cfg.Fetch.Workers,
		input:    s.cfg.InputOptions(),
	}

	format := q.Get("format")
	if format == "" {
		format = string(export.FormatCSV)
	}
	f, err := export.ParseFormat(format)
	if err != nil {
		return req, err
	}
	req.format = f

	if raw := q.Get("workers"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return req, errors.New("workers must be an integer")
		}
		req.workers = n
	}
	if raw := q.Get("completion_order"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return req, errors.New("completion_order must be a boolean")
		}
		req.completionOrder = b
	}
	if d := q.Get("delimiter"); d != "" {
		req.input.Delimiter = d
	}
	if e := q.Get("encoding"); e != "" {
		req.input.Encoding = e
	}
	req.spreadsheet = isSpreadsheetUpload(r)

	if req.endpoint != "" {
		if req.prefix != "" || req.suffix != "" {
			return req, errors.New("use either endpoint or prefix/suffix")
		}
		ep, err := s.catalog.Lookup(req.endpoint)
		if err != nil {
			return req, err
		}
		req.prefix, req.suffix = ep.Prefix, ep.Suffix
	}
	if req.prefix == "" {
		return req, errors.New("prefix or endpoint is required")
	}
	return req, nil
}

// isSpreadsheetUpload reports whether the request body is an Excel workbook,
// by Content-Type or an explicit input=xlsx query parameter.
func isSpreadsheetUpload(r *http.Request) bool {
	if strings.EqualFold(r.URL.Query().Get("input"), "xlsx") {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == export.FormatXLSX.ContentType()
}

// handleBatch runs one batch over the uploaded CSV and responds with the export.
func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	req, err := s.parseBatchRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	body := http.MaxBytesReader(w, r.Body, s.cfg.Server.MaxUploadBytes)
	var rows []batch.InputRow
	if req.spreadsheet {
		rows, err = input.LoadXLSX(body)
	} else {
		rows, err = input.LoadCSV(body, req.input)
	}
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	fetcher := s.client
	if c, ok := s.endpointClients[req.endpoint]; ok {
		fetcher = c
	}

	batchCfg := s.cfg.BatchConfig(req.prefix, req.suffix)
	batchCfg.Concurrency = req.workers
	orch, err := batch.New(fetcher, batchCfg, batch.WithReporter(s.reporter))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	set, err := orch.Run(r.Context(), rows)
	switch {
	case errors.Is(err, batch.ErrMissingID):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, batch.ErrBatchCancelled):
		s.logger.Warn().Err(err).Msg("Client went away before the batch completed")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	records := set.Sorted()
	if req.completionOrder {
		records = set.Records()
	}
	sum := set.Summary()

	w.Header().Set("Content-Type", req.format.ContentType())
	w.Header().Set("X-Batch-ID", set.BatchID)
	w.Header().Set("X-Batch-Total", strconv.Itoa(sum.Total))
	w.Header().Set("X-Batch-Succeeded", strconv.Itoa(sum.Succeeded))
	w.Header().Set("X-Batch-HTTP-Failed", strconv.Itoa(sum.HTTPFailed))
	w.Header().Set("X-Batch-Network-Failed", strconv.Itoa(sum.NetworkFailed))
	w.WriteHeader(http.StatusOK)

	if err := export.Write(w, req.format, records, export.Options{}); err != nil {
		s.logger.Warn().Err(err).Str("batch_id", set.BatchID).Msg("Failed to write batch response")
	}
}
