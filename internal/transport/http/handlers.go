package transporthttp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"example.com/playbacktelemetry/internal/domain"
	"example.com/playbacktelemetry/internal/ingest"
	"example.com/playbacktelemetry/internal/logging"
	"example.com/playbacktelemetry/internal/report"
)

// Ingester accepts a raw ingestion request body. Implemented by *ingest.Ingestor.
type Ingester interface {
	Ingest(ctx context.Context, body []byte) (ingest.Result, error)
}

// Reporter serves read-only reports. Implemented by *report.Service.
type Reporter interface {
	Report(ctx context.Context, f domain.ReportFilter) (*domain.Report, error)
	GlobalStats(ctx context.Context) (domain.Summary, error)
}

// Store covers the storage operations the HTTP layer calls directly.
// Implemented by *postgres.DB.
type Store interface {
	Ready(ctx context.Context) error
	PurgeEvents(ctx context.Context) (int64, error)
}

type ServerDeps struct {
	Ingestor Ingester
	Reports  Reporter
	DB       Store

	MaxBodyBytes    int64
	RateLimitPerMin int
	CORSOrigins     []string
	PurgeEnabled    bool
	Auth            AuthConfig
}

type ingestResponse struct {
	Success  bool   `json:"success"`
	Inserted int    `json:"inserted"`
	Errors   int    `json:"errors,omitempty"`
	Failed   int    `json:"failed,omitempty"`
	Message  string `json:"message"`
}

// persistenceFailureResponse carries the rows committed before an
// unexpected storage failure so callers can decide whether to retry.
type persistenceFailureResponse struct {
	Error    string `json:"error"`
	Inserted int    `json:"inserted"`
	Message  string `json:"message"`
}

type validationResponse struct {
	Error   string               `json:"error"`
	Details []domain.RecordError `json:"details"`
	Message string               `json:"message"`
}

// --- Health ---

func (d *ServerDeps) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (d *ServerDeps) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := d.DB.Ready(r.Context()); err != nil {
		logging.Ctx(r.Context()).Warn().Err(err).Msg("readiness check failed")
		WriteError(w, http.StatusServiceUnavailable, "Not ready", "database not reachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// --- Ingestion ---

func (d *ServerDeps) HandleIngest(w http.ResponseWriter, r *http.Request) {
	defer DrainBody(r)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteError(w, http.StatusRequestEntityTooLarge, "Payload too large",
				fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
			return
		}
		WriteError(w, http.StatusBadRequest, "Validation failed", "could not read request body")
		return
	}

	res, err := d.Ingestor.Ingest(r.Context(), body)
	if err != nil {
		d.writeIngestError(w, r, err)
		return
	}

	if res.Partial() {
		total := res.Inserted + res.Failed
		writeJSON(w, http.StatusMultiStatus, ingestResponse{
			Success:  true,
			Inserted: res.Inserted,
			Errors:   res.Failed,
			Failed:   res.Failed,
			Message:  fmt.Sprintf("Recorded %d of %d playback events; %d failed to persist", res.Inserted, total, res.Failed),
		})
		return
	}
	writeJSON(w, http.StatusOK, ingestResponse{
		Success:  true,
		Inserted: res.Inserted,
		Message:  fmt.Sprintf("Successfully recorded %d playback event(s)", res.Inserted),
	})
}

func (d *ServerDeps) writeIngestError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		details := verr.Details
		if details == nil {
			details = []domain.RecordError{}
		}
		writeJSON(w, http.StatusBadRequest, validationResponse{
			Error:   "Validation failed",
			Details: details,
			Message: verr.Message(),
		})
		return
	}

	logging.Ctx(r.Context()).Error().Err(err).Msg("ingestion failed")
	var perr *ingest.PersistenceError
	if errors.As(err, &perr) {
		writeJSON(w, http.StatusInternalServerError, persistenceFailureResponse{
			Error:    "Failed to record playback events",
			Inserted: perr.Inserted,
			Message:  err.Error(),
		})
		return
	}
	WriteError(w, http.StatusInternalServerError, "Failed to record playback events", err.Error())
}

// --- Reporting ---

func (d *ServerDeps) HandleReport(w http.ResponseWriter, r *http.Request) {
	f, err := report.ParseFilter(r.URL.Query())
	if err != nil {
		var ferr *domain.FilterError
		if errors.As(err, &ferr) {
			WriteError(w, http.StatusBadRequest, "Invalid filter", ferr.Error())
			return
		}
		WriteError(w, http.StatusBadRequest, "Invalid filter", err.Error())
		return
	}

	rep, err := d.Reports.Report(r.Context(), f)
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Msg("report failed")
		WriteError(w, http.StatusInternalServerError, "Failed to generate report", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (d *ServerDeps) HandleStats(w http.ResponseWriter, r *http.Request) {
	sum, err := d.Reports.GlobalStats(r.Context())
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Msg("global stats failed")
		WriteError(w, http.StatusInternalServerError, "Failed to compute statistics", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// --- Admin ---

func (d *ServerDeps) HandlePurge(w http.ResponseWriter, r *http.Request) {
	n, err := d.DB.PurgeEvents(r.Context())
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Msg("purge failed")
		WriteError(w, http.StatusInternalServerError, "Failed to purge playback events", err.Error())
		return
	}
	logging.Ctx(r.Context()).Warn().Int64("deleted", n).Msg("playback events purged")
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "deleted": n})
}
