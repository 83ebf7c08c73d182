package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"iter"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitechat/internal/jobs"
	"github.com/JakeFAU/sitechat/internal/metrics"
)

// Service is the application surface the handlers call.
type Service interface {
	SubmitDomain(ctx context.Context, domain string) (jobs.Admission, error)
	GetStatus(domain string) jobs.Status
	Domains() []string
	Ask(ctx context.Context, domain, question string) (iter.Seq2[string, error], error)
}

// Options tunes the HTTP layer.
type Options struct {
	CORSOrigins []string
	// RequestTimeout bounds every route except the streaming ask route.
	RequestTimeout time.Duration
	Metrics        bool
}

// Server wires HTTP handlers to the Service.
type Server struct {
	router chi.Router
	svc    Service
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(svc Service, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	s := &Server{svc: svc, logger: logger.Named("api")}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(corsMiddleware(opts.CORSOrigins))
	if opts.Metrics {
		r.Use(metrics.Middleware)
		r.Handle("/metrics", metrics.Handler())
	}

	r.Get("/healthz", s.healthz)

	r.Route("/domains", func(r chi.Router) {
		r.With(timeoutMiddleware(opts.RequestTimeout)).Get("/", s.listDomains)
		r.With(timeoutMiddleware(opts.RequestTimeout)).Post("/", s.submitDomain)
		r.Route("/{domain}", func(r chi.Router) {
			r.With(timeoutMiddleware(opts.RequestTimeout)).Get("/status", s.getStatus)
			r.Post("/ask", s.ask)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type submitRequest struct {
	Domain string `json:"domain"`
}

type statusResponse struct {
	Domain string     `json:"domain"`
	State  jobs.State `json:"state"`
	Reason string     `json:"reason,omitempty"`
}

type askRequest struct {
	Question string `json:"question"`
}

func (s *Server) listDomains(w http.ResponseWriter, _ *http.Request) {
	domains := s.svc.Domains()
	out := make([]statusResponse, 0, len(domains))
	for _, d := range domains {
		out = append(out, s.status(d))
	}
	writeJSON(w, http.StatusOK, map[string]any{"domains": out})
}

func (s *Server) submitDomain(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	host, err := jobs.NormalizeDomain(req.Domain)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	adm, err := s.svc.SubmitDomain(r.Context(), host)
	if err != nil {
		s.logger.Error("submit domain", zap.String("domain", host), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to submit domain")
		return
	}
	code := http.StatusAccepted
	if adm == jobs.AlreadyActive {
		code = http.StatusOK
	}
	writeJSON(w, code, map[string]any{
		"domain":    host,
		"admission": adm,
		"state":     s.svc.GetStatus(host).State,
	})
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	host, err := jobs.NormalizeDomain(chi.URLParam(r, "domain"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.status(host))
}

func (s *Server) status(domain string) statusResponse {
	st := s.svc.GetStatus(domain)
	if st.State == "" {
		st.State = jobs.StateAbsent
	}
	return statusResponse{Domain: domain, State: st.State, Reason: st.Reason}
}

func (s *Server) ask(w http.ResponseWriter, r *http.Request) {
	domain := chi.URLParam(r, "domain")
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Question == "" {
		writeError(w, http.StatusBadRequest, "question required")
		return
	}

	answer, err := s.svc.Ask(r.Context(), domain, req.Question)
	switch {
	case errors.Is(err, jobs.ErrInvalidDomain):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, jobs.ErrDomainNotReady):
		writeError(w, http.StatusConflict, "domain is not ready")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "failed to start answer")
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	for text, err := range answer {
		if _, werr := io.WriteString(w, text); werr != nil {
			s.logger.Debug("client went away", zap.String("domain", domain), zap.Error(werr))
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
		if err != nil {
			s.logger.Warn("answer stream ended with error", zap.String("domain", domain), zap.Error(err))
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
