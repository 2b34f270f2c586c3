package httpadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/opn-tools/permit-assistant/internal/core/domain"
	"github.com/opn-tools/permit-assistant/internal/core/ports"
	"github.com/opn-tools/permit-assistant/internal/observability/metrics"
)

const serviceName = "permit-assistant-api"

type Router struct {
	checker   ports.SubmissionChecker
	sessions  ports.SessionReader
	retriever ports.ContextProvider
	report    ports.ReportWriter
	queue     ports.MessageQueue
	metrics   *metrics.HTTPServerMetrics
	logger    *slog.Logger

	rateLimitRPS   float64
	rateLimitBurst int
}

type RouterOptions struct {
	Queue          ports.MessageQueue
	Metrics        *metrics.HTTPServerMetrics
	Logger         *slog.Logger
	RateLimitRPS   float64
	RateLimitBurst int
}

func NewRouter(
	checker ports.SubmissionChecker,
	sessions ports.SessionReader,
	retriever ports.ContextProvider,
	report ports.ReportWriter,
	options RouterOptions,
) *Router {
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		checker:        checker,
		sessions:       sessions,
		retriever:      retriever,
		report:         report,
		queue:          options.Queue,
		metrics:        options.Metrics,
		logger:         logger,
		rateLimitRPS:   options.RateLimitRPS,
		rateLimitBurst: options.RateLimitBurst,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	mux.HandleFunc("/v1/submissions", rt.uploadSubmission)
	mux.HandleFunc("/v1/sessions/", rt.sessionSubtree)
	mux.HandleFunc("/v1/retrieval/context", rt.retrieveContext)
	mux.HandleFunc("/v1/knowledge/fragments", rt.enqueueFragments)
	if rt.metrics != nil {
		mux.Handle("/metrics", rt.metrics.Handler())
	}

	var handler http.Handler = mux
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(serviceName, handler)
	}
	handler = rateLimitMiddleware(rt.rateLimitRPS, rt.rateLimitBurst, handler)
	handler = accessLogMiddleware(handler)
	handler = requestIDMiddleware(handler)
	return handler
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) uploadSubmission(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "multipart field 'file' is required")
		return
	}
	defer file.Close()

	session, err := rt.checker.Submit(r.Context(), fileHeader.Filename, file)
	if err != nil {
		rt.writeMappedError(w, r, "submit", err)
		return
	}

	// The compliance pipeline runs asynchronously; clients poll the
	// session resource for status.
	go rt.runCheck(session.ID)

	writeJSON(w, http.StatusAccepted, session)
}

// checkTimeout bounds one full pipeline run: extraction, fact mining,
// retrieval and per-requirement assessment.
const checkTimeout = 10 * time.Minute

func contextWithCheckTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), checkTimeout)
}

func (rt *Router) runCheck(sessionID string) {
	ctx, cancel := contextWithCheckTimeout()
	defer cancel()

	start := time.Now()
	err := rt.checker.CheckByID(ctx, sessionID)
	if rt.metrics != nil {
		rt.metrics.RecordSubmissionCheck(serviceName, time.Since(start), err)
	}
	if err != nil {
		rt.logger.Error("submission check failed",
			"session_id", sessionID,
			"error", err,
		)
		return
	}

	if rt.metrics != nil {
		if session, err := rt.sessions.GetByID(ctx, sessionID); err == nil {
			for _, assessment := range session.Assessments {
				rt.metrics.RecordAssessmentStatus(serviceName, string(assessment.Status))
			}
		}
	}
}

func (rt *Router) sessionSubtree(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/v1/sessions/")
	if rest == "" {
		writeError(w, http.StatusBadRequest, "session id is required")
		return
	}

	if id, ok := strings.CutSuffix(rest, "/report"); ok {
		rt.downloadReport(w, r, id)
		return
	}
	if strings.Contains(rest, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	rt.getSession(w, r, rest)
}

func (rt *Router) getSession(w http.ResponseWriter, r *http.Request, id string) {
	session, err := rt.sessions.GetByID(r.Context(), id)
	if err != nil {
		rt.writeMappedError(w, r, "get session", err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (rt *Router) downloadReport(w http.ResponseWriter, r *http.Request, id string) {
	session, err := rt.sessions.GetByID(r.Context(), id)
	if err != nil {
		rt.writeMappedError(w, r, "get session for report", err)
		return
	}
	if session.Status != domain.SessionReady {
		writeError(w, http.StatusConflict, fmt.Sprintf("session is %s, report requires ready", session.Status))
		return
	}

	raw, err := rt.report.WriteReport(session)
	if err != nil {
		rt.writeMappedError(w, r, "render report", err)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "porocilo_"+session.ID+".xlsx"))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

type retrieveContextRequest struct {
	KeyFacts *domain.KeyFacts `json:"key_facts"`
	TopK     int              `json:"top_k"`
}

type retrieveContextResponse struct {
	Context   string           `json:"context"`
	Fragments []map[string]any `json:"fragments"`
}

func (rt *Router) retrieveContext(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req retrieveContextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	start := time.Now()
	contextText, fragments, err := rt.retriever.GetContext(r.Context(), req.KeyFacts, req.TopK)
	if err != nil {
		rt.writeMappedError(w, r, "retrieve context", err)
		return
	}
	if rt.metrics != nil {
		rt.metrics.RecordRetrieval(serviceName, "/v1/retrieval/context", len(fragments), time.Since(start))
	}

	writeJSON(w, http.StatusOK, retrieveContextResponse{
		Context:   contextText,
		Fragments: fragments,
	})
}

type enqueueFragmentsRequest struct {
	Fragments []domain.Fragment `json:"fragments"`
}

// enqueueFragments hands knowledge fragments to the worker for
// vectorization via the message queue.
func (rt *Router) enqueueFragments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if rt.queue == nil {
		writeError(w, http.StatusServiceUnavailable, "knowledge ingestion is not configured")
		return
	}

	var req enqueueFragmentsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if len(req.Fragments) == 0 {
		writeError(w, http.StatusBadRequest, "fragments are required")
		return
	}

	accepted := 0
	for _, fragment := range req.Fragments {
		if strings.TrimSpace(fragment.Text) == "" {
			continue
		}
		if err := rt.queue.PublishVectorizeFragment(r.Context(), fragment); err != nil {
			rt.writeMappedError(w, r, "enqueue fragment", err)
			return
		}
		accepted++
	}
	if accepted == 0 {
		writeError(w, http.StatusBadRequest, "fragments have no text")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]int{"accepted": accepted})
}

func (rt *Router) writeMappedError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := mapErrorToHTTPStatus(err)
	if status >= 500 {
		rt.logger.Error(op,
			"request_id", requestIDFromContext(r.Context()),
			"error", err,
		)
	}
	writeError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
