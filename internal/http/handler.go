package httpapp

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cesargomez89/stemdeck/internal/app"
	"github.com/cesargomez89/stemdeck/internal/domain"
	"github.com/cesargomez89/stemdeck/internal/http/dto"
	"github.com/cesargomez89/stemdeck/internal/logger"
	"github.com/cesargomez89/stemdeck/internal/progress"
	"github.com/cesargomez89/stemdeck/internal/ratelimit"
)

// Limits are the request-level upload limits.
type Limits struct {
	MaxSeparationUpload int64
	MaxAnalysisUpload   int64
}

type Handler struct {
	Service  *app.Service
	Reporter *progress.Reporter
	Limiter  ratelimit.Limiter
	Logger   *logger.Logger
	// FFmpegAvailable reports transcoder availability for health checks.
	FFmpegAvailable func() bool
	Limits          Limits
}

func NewHandler(svc *app.Service, reporter *progress.Reporter, limiter ratelimit.Limiter, limits Limits, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Default()
	}
	h := &Handler{
		Service:  svc,
		Reporter: reporter,
		Limiter:  limiter,
		Limits:   limits,
		Logger:   log.WithComponent("http"),
	}
	reporter.WithDecorator(h.decorate)
	return h
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", h.Health)

		r.Get("/tasks/{id}", h.GetTask)
		r.Get("/tasks/{id}/ws", h.TaskWS)

		r.Route("/youtube", func(r chi.Router) {
			r.With(h.RateLimit).Post("/convert", h.Convert)
			r.Get("/progress/{id}", h.Progress)
			r.Get("/download/{id}", h.DownloadConverted)
		})

		r.Route("/separate", func(r chi.Router) {
			r.With(h.RateLimit).Post("/", h.Separate)
			r.Get("/{id}/progress", h.Progress)
			r.Get("/{id}/stems", h.DownloadStemsZip)
			r.Get("/{id}/stems/{stem}", h.DownloadStem)
		})

		r.Route("/bpm", func(r chi.Router) {
			r.With(h.RateLimit).Post("/analyze", h.Analyze)
			r.Get("/{id}/progress", h.Progress)
			r.Get("/{id}", h.GetAnalysis)
		})
	})
}

// decorate adds download links to progress events of finished tasks.
func (h *Handler) decorate(e *progress.Event, t domain.Task) {
	if t.Status != domain.StatusCompleted {
		return
	}
	switch t.Kind {
	case domain.KindConversion:
		e.DownloadURL = "/api/v1/youtube/download/" + t.ID
	case domain.KindSeparation:
		e.DownloadURL = "/api/v1/separate/" + t.ID + "/stems"
	case domain.KindAnalysis:
		e.DownloadURL = "/api/v1/bpm/" + t.ID
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return http.StatusRequestEntityTooLarge
	}

	switch domain.KindOf(err) {
	case domain.ErrKindNotFound:
		return http.StatusNotFound
	case domain.ErrKindInvalidInput:
		return http.StatusBadRequest
	case domain.ErrKindLimitExceeded:
		return http.StatusTooManyRequests
	case domain.ErrKindTimeout:
		return http.StatusGatewayTimeout
	case domain.ErrKindUpstreamFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	h.writeErrorStatus(w, r, statusFor(err), err)
}

// writeUploadError reports limit errors on uploads as 413; rate limiting has
// already happened in middleware by then.
func (h *Handler) writeUploadError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusTooManyRequests {
		status = http.StatusRequestEntityTooLarge
	}
	h.writeErrorStatus(w, r, status, err)
}

func (h *Handler) writeErrorStatus(w http.ResponseWriter, r *http.Request, status int, err error) {
	if status >= http.StatusInternalServerError {
		h.Logger.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	} else {
		h.Logger.Debug("Request rejected", "method", r.Method, "path", r.URL.Path, "error", err)
	}

	kind := domain.KindOf(err)
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		kind = domain.ErrKindLimitExceeded
	}
	writeJSON(w, status, dto.ErrorResponse{Error: err.Error(), Type: string(kind)})
}
