package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

const (
	defaultResultLimit = 20
	maxResultLimit     = 200
)

// targetRequest is the body of POST /v1/targets. Pointer fields on update
// requests leave the stored value unchanged when omitted.
type targetRequest struct {
	ID         string                `json:"id"`
	URL        *string               `json:"url"`
	SupplierID *string               `json:"supplier_id"`
	Selectors  *crawler.SelectorMap  `json:"selectors"`
	Frequency  *crawler.Frequency    `json:"frequency"`
	CronExpr   *string               `json:"cron_expr"`
	Status     *crawler.TargetStatus `json:"status"`
	Headers    http.Header           `json:"headers"`
	Cookies    map[string]string     `json:"cookies"`
	RateLimit  *float64              `json:"rate_limit"`
	MaxPages   *int                  `json:"max_pages"`
}

func (r targetRequest) target() crawler.CrawlTarget {
	return r.patch().Apply(crawler.CrawlTarget{ID: r.ID})
}

func (r targetRequest) patch() crawler.TargetPatch {
	return crawler.TargetPatch{
		URL:        r.URL,
		SupplierID: r.SupplierID,
		Selectors:  r.Selectors,
		Frequency:  r.Frequency,
		CronExpr:   r.CronExpr,
		Status:     r.Status,
		Headers:    r.Headers,
		Cookies:    r.Cookies,
		RateLimit:  r.RateLimit,
		MaxPages:   r.MaxPages,
	}
}

type pauseRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) createTarget(w http.ResponseWriter, r *http.Request) {
	var req targetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	target, err := s.orch.CreateTarget(r.Context(), req.target())
	if err != nil {
		s.fail(w, "create target", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"target": target})
}

func (s *Server) listTargets(w http.ResponseWriter, r *http.Request) {
	targets, err := s.orch.ListTargets(r.Context())
	if err != nil {
		s.fail(w, "list targets", err)
		return
	}
	if targets == nil {
		targets = []crawler.CrawlTarget{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"targets": targets})
}

func (s *Server) getTarget(w http.ResponseWriter, r *http.Request) {
	target, err := s.orch.GetTarget(r.Context(), chi.URLParam(r, "target_id"))
	if err != nil {
		s.fail(w, "get target", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"target": target})
}

func (s *Server) updateTarget(w http.ResponseWriter, r *http.Request) {
	var req targetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	target, err := s.orch.UpdateTarget(r.Context(), chi.URLParam(r, "target_id"), req.patch())
	if err != nil {
		s.fail(w, "update target", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"target": target})
}

func (s *Server) deleteTarget(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.DeleteTarget(r.Context(), chi.URLParam(r, "target_id")); err != nil {
		s.fail(w, "delete target", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// runTarget crawls synchronously. A crawl that ran but failed still answers
// 200 with the persisted failure result.
func (s *Server) runTarget(w http.ResponseWriter, r *http.Request) {
	result, err := s.orch.ExecuteCrawl(r.Context(), chi.URLParam(r, "target_id"))
	if err != nil {
		if result.ID == "" || errors.Is(err, crawler.ErrTargetNotActive) {
			s.fail(w, "run target", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"result": result, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": result})
}

func (s *Server) startTarget(w http.ResponseWriter, r *http.Request) {
	targetID := chi.URLParam(r, "target_id")
	jobID, err := s.orch.Start(r.Context(), targetID)
	if err != nil {
		s.fail(w, "start target", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"target_id": targetID, "job_id": jobID})
}

func (s *Server) stopTarget(w http.ResponseWriter, r *http.Request) {
	targetID := chi.URLParam(r, "target_id")
	stopped := s.orch.Stop(targetID)
	writeJSON(w, http.StatusOK, map[string]any{"target_id": targetID, "stopped": stopped})
}

func (s *Server) pauseTarget(w http.ResponseWriter, r *http.Request) {
	var req pauseRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "paused via API"
	}
	target, err := s.orch.PauseTarget(r.Context(), chi.URLParam(r, "target_id"), reason)
	if err != nil {
		s.fail(w, "pause target", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"target": target})
}

func (s *Server) resumeTarget(w http.ResponseWriter, r *http.Request) {
	target, err := s.orch.ResumeTarget(r.Context(), chi.URLParam(r, "target_id"))
	if err != nil {
		s.fail(w, "resume target", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"target": target})
}

func (s *Server) targetMetrics(w http.ResponseWriter, r *http.Request) {
	targetID := chi.URLParam(r, "target_id")
	if _, err := s.orch.GetTarget(r.Context(), targetID); err != nil {
		s.fail(w, "target metrics", err)
		return
	}
	m, _ := s.orch.Metrics(targetID)
	writeJSON(w, http.StatusOK, map[string]any{"target_id": targetID, "metrics": m})
}

func (s *Server) targetResults(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, defaultResultLimit, maxResultLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	results, err := s.orch.Results(r.Context(), chi.URLParam(r, "target_id"), limit)
	if err != nil {
		s.fail(w, "list results", err)
		return
	}
	if results == nil {
		results = []crawler.CrawlResult{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) targetStatus(w http.ResponseWriter, r *http.Request) {
	targetID := chi.URLParam(r, "target_id")
	if _, err := s.orch.GetTarget(r.Context(), targetID); err != nil {
		s.fail(w, "target status", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": s.orch.JobStatus(targetID)})
}

func parseLimit(r *http.Request, def, maxLimit int) (int, error) {
	limStr := r.URL.Query().Get("limit")
	if limStr == "" {
		return def, nil
	}
	val, err := strconv.Atoi(limStr)
	if err != nil || val <= 0 {
		return 0, errors.New("invalid limit")
	}
	return min(val, maxLimit), nil
}
