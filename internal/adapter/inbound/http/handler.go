package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/ostiary-ai/ostiary/internal/domain/actionlog"
	"github.com/ostiary-ai/ostiary/internal/domain/authority"
	"github.com/ostiary-ai/ostiary/internal/service"
)

// maxRequestBodySize is the maximum allowed request body size (1 MB).
const maxRequestBodySize = 1 << 20

// defaultPendingLimit caps pending-approval listings when the client
// does not pass an explicit limit.
const defaultPendingLimit = 50

// Handler exposes the engine's services as a JSON API.
type Handler struct {
	registry  *service.RegistryService
	authority *service.AuthorityService
	decisions *service.DecisionService
	lifecycle *service.LifecycleService
	executors *service.ExecutorRegistry
	validate  *validator.Validate
	metrics   *Metrics
	logger    *slog.Logger
}

// NewHandler creates a Handler. metrics may be nil in tests.
func NewHandler(
	registry *service.RegistryService,
	auth *service.AuthorityService,
	decisions *service.DecisionService,
	lifecycle *service.LifecycleService,
	executors *service.ExecutorRegistry,
	metrics *Metrics,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		registry:  registry,
		authority: auth,
		decisions: decisions,
		lifecycle: lifecycle,
		executors: executors,
		validate:  validator.New(),
		metrics:   metrics,
		logger:    logger,
	}
}

// Routes builds the API route table.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("GET /healthz", healthHandler())

	mux.HandleFunc("GET /api/v1/action-types", h.listActionTypes)
	mux.HandleFunc("GET /api/v1/action-types/{name}", h.getActionType)

	mux.HandleFunc("POST /api/v1/users/{userID}/authority/initialize", h.initializeAuthority)
	mux.HandleFunc("GET /api/v1/users/{userID}/authority", h.listAuthority)
	mux.HandleFunc("GET /api/v1/users/{userID}/authority/{actionType}", h.effectiveAuthority)
	mux.HandleFunc("PUT /api/v1/users/{userID}/authority/{actionType}", h.setAuthority)
	mux.HandleFunc("POST /api/v1/users/{userID}/authority/{actionType}/check", h.checkAuthority)
	mux.HandleFunc("POST /api/v1/users/{userID}/authority/disable-all", h.disableAll)
	mux.HandleFunc("POST /api/v1/users/{userID}/authority/conservative", h.conservativeDefaults)

	mux.HandleFunc("POST /api/v1/users/{userID}/actions", h.requestAction)
	mux.HandleFunc("GET /api/v1/users/{userID}/actions/pending", h.pendingApprovals)
	mux.HandleFunc("GET /api/v1/users/{userID}/actions/pending/count", h.pendingCount)
	mux.HandleFunc("GET /api/v1/users/{userID}/actions/stats", h.actionStats)

	mux.HandleFunc("GET /api/v1/actions/{id}", h.getAction)
	mux.HandleFunc("POST /api/v1/actions/{id}/approve", h.approveAction)
	mux.HandleFunc("POST /api/v1/actions/{id}/reject", h.rejectAction)
	mux.HandleFunc("POST /api/v1/actions/{id}/execute", h.executeAction)
	mux.HandleFunc("POST /api/v1/actions/{id}/reverse", h.reverseAction)
	mux.HandleFunc("POST /api/v1/actions/{id}/feedback", h.actionFeedback)
	mux.HandleFunc("POST /api/v1/actions/batch-approve", h.batchApprove)
	mux.HandleFunc("POST /api/v1/actions/batch-reject", h.batchReject)

	return mux
}

// --- action type catalog ---

func (h *Handler) listActionTypes(w http.ResponseWriter, r *http.Request) {
	var (
		types []authority.ActionType
		err   error
	)
	if cat := r.URL.Query().Get("category"); cat != "" {
		types, err = h.registry.ByCategory(r.Context(), authority.Category(cat))
	} else {
		types, err = h.registry.All(r.Context())
	}
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, types)
}

func (h *Handler) getActionType(w http.ResponseWriter, r *http.Request) {
	t, err := h.typeByName(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, t)
}

// typeByName resolves the action type named in the route, treating an
// absent type as ErrUnknownActionType.
func (h *Handler) typeByName(r *http.Request) (*authority.ActionType, error) {
	name := r.PathValue("actionType")
	if name == "" {
		name = r.PathValue("name")
	}
	t, err := h.registry.ByName(r.Context(), name)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, fmt.Errorf("%w: %s", authority.ErrUnknownActionType, name)
	}
	return t, nil
}

// --- authority settings ---

func (h *Handler) initializeAuthority(w http.ResponseWriter, r *http.Request) {
	created, err := h.authority.InitializeForUser(r.Context(), r.PathValue("userID"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"created": created})
}

func (h *Handler) listAuthority(w http.ResponseWriter, r *http.Request) {
	settings, err := h.authority.SettingsForUser(r.Context(), r.PathValue("userID"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, settings)
}

func (h *Handler) effectiveAuthority(w http.ResponseWriter, r *http.Request) {
	t, err := h.typeByName(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	eff, err := h.authority.EffectiveAuthority(r.Context(), r.PathValue("userID"), t.ID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, eff)
}

// setAuthorityRequest is the body for PUT authority settings.
type setAuthorityRequest struct {
	AuthorityLevel string                `json:"authority_level" validate:"required,oneof=full_auto draft_approve ask_first disabled"`
	Conditions     *authority.Conditions `json:"conditions,omitempty"`
}

func (h *Handler) setAuthority(w http.ResponseWriter, r *http.Request) {
	var req setAuthorityRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	t, err := h.typeByName(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	setting, err := h.authority.SetLevel(r.Context(), r.PathValue("userID"), t.ID, authority.Level(req.AuthorityLevel), req.Conditions)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, setting)
}

func (h *Handler) checkAuthority(w http.ResponseWriter, r *http.Request) {
	var evalCtx authority.Context
	if !h.decodeBody(w, r, &evalCtx) {
		return
	}
	evalCtx.Now = time.Now()
	if evalCtx.CurrentTime == "" {
		evalCtx.CurrentTime = evalCtx.Now.Format("15:04")
	}
	check, err := h.decisions.CheckAuthority(r.Context(), r.PathValue("userID"), r.PathValue("actionType"), &evalCtx)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if h.metrics != nil && check.Conditions.Check != "" {
		h.metrics.ConditionFailures.WithLabelValues(check.Conditions.Check).Inc()
	}
	respondJSON(w, http.StatusOK, check)
}

func (h *Handler) disableAll(w http.ResponseWriter, r *http.Request) {
	updated, err := h.authority.DisableAll(r.Context(), r.PathValue("userID"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"updated": updated})
}

func (h *Handler) conservativeDefaults(w http.ResponseWriter, r *http.Request) {
	updated, err := h.authority.EnableConservativeDefaults(r.Context(), r.PathValue("userID"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"updated": updated})
}

// --- decision pipeline ---

// actionRequestBody is the body for submitting an action for a decision.
type actionRequestBody struct {
	ActionTypeName  string             `json:"action_type_name" validate:"required"`
	TargetType      string             `json:"target_type" validate:"omitempty,oneof=email calendar_event commitment person"`
	TargetID        string             `json:"target_id"`
	Description     string             `json:"description"`
	Payload         map[string]any     `json:"payload,omitempty"`
	ConfidenceScore *float64           `json:"confidence_score,omitempty" validate:"omitempty,gte=0,lte=100"`
	Metadata        actionlog.Metadata `json:"metadata"`
}

func (h *Handler) requestAction(w http.ResponseWriter, r *http.Request) {
	var body actionRequestBody
	if !h.decodeBody(w, r, &body) {
		return
	}
	decision, err := h.decisions.ProcessActionRequest(r.Context(), r.PathValue("userID"), service.ActionRequest{
		ActionTypeName:  body.ActionTypeName,
		TargetType:      actionlog.TargetType(body.TargetType),
		TargetID:        body.TargetID,
		Description:     body.Description,
		Payload:         body.Payload,
		ConfidenceScore: body.ConfidenceScore,
		Metadata:        body.Metadata,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.recordDecision(decision)
	respondJSON(w, http.StatusOK, decision)
}

// recordDecision increments the decision counter by applied level and outcome.
func (h *Handler) recordDecision(d *service.ActionDecision) {
	if h.metrics == nil {
		return
	}
	outcome := "skipped"
	switch {
	case d.ShouldExecute:
		outcome = "auto"
	case d.RequiresApproval:
		outcome = "approval"
	}
	h.metrics.DecisionsTotal.WithLabelValues(string(d.AuthorityLevel), outcome).Inc()
	if d.FailedCondition != "" {
		h.metrics.ConditionFailures.WithLabelValues(d.FailedCondition).Inc()
	}
}

// --- action lifecycle ---

func (h *Handler) getAction(w http.ResponseWriter, r *http.Request) {
	log, err := h.lifecycle.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, log)
}

type approveRequest struct {
	EditedContent string `json:"edited_content,omitempty"`
}

func (h *Handler) approveAction(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if !h.decodeOptionalBody(w, r, &req) {
		return
	}
	log, err := h.lifecycle.Approve(r.Context(), r.PathValue("id"), req.EditedContent)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.recordTransition(actionlog.StatusApproved)
	respondJSON(w, http.StatusOK, log)
}

type rejectRequest struct {
	Reason string `json:"reason,omitempty"`
}

func (h *Handler) rejectAction(w http.ResponseWriter, r *http.Request) {
	var req rejectRequest
	if !h.decodeOptionalBody(w, r, &req) {
		return
	}
	log, err := h.lifecycle.Reject(r.Context(), r.PathValue("id"), req.Reason)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.recordTransition(actionlog.StatusRejected)
	respondJSON(w, http.StatusOK, log)
}

func (h *Handler) executeAction(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	log, err := h.lifecycle.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	exec, err := h.executors.For(log.ActionTypeName)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	start := time.Now()
	result, err := h.lifecycle.Execute(r.Context(), id, exec)
	if h.metrics != nil {
		h.metrics.ExecutorDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil && result == nil {
		h.respondError(w, r, err)
		return
	}
	if result.Success {
		h.recordTransition(actionlog.StatusExecuted)
	} else {
		h.recordTransition(actionlog.StatusFailed)
	}
	respondJSON(w, http.StatusOK, result)
}

type reverseRequest struct {
	Reason string `json:"reason,omitempty"`
}

func (h *Handler) reverseAction(w http.ResponseWriter, r *http.Request) {
	var req reverseRequest
	if !h.decodeOptionalBody(w, r, &req) {
		return
	}
	log, err := h.lifecycle.Reverse(r.Context(), r.PathValue("id"), actionlog.ReversedByUser, req.Reason)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.recordTransition(actionlog.StatusReversed)
	respondJSON(w, http.StatusOK, log)
}

type feedbackRequest struct {
	Feedback string `json:"feedback" validate:"required,oneof=correct should_ask should_auto wrong"`
}

func (h *Handler) actionFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	log, err := h.lifecycle.AddFeedback(r.Context(), r.PathValue("id"), actionlog.Feedback(req.Feedback))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, log)
}

type batchRequest struct {
	IDs    []string `json:"ids" validate:"required,min=1,dive,required"`
	Reason string   `json:"reason,omitempty"`
}

func (h *Handler) batchApprove(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	result, err := h.lifecycle.BatchApprove(r.Context(), req.IDs)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (h *Handler) batchReject(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	result, err := h.lifecycle.BatchReject(r.Context(), req.IDs, req.Reason)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// --- approval queue and stats ---

func (h *Handler) pendingApprovals(w http.ResponseWriter, r *http.Request) {
	limit := defaultPendingLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = n
	}
	logs, err := h.lifecycle.PendingApprovals(r.Context(), r.PathValue("userID"), limit)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, logs)
}

func (h *Handler) pendingCount(w http.ResponseWriter, r *http.Request) {
	count, err := h.lifecycle.PendingCount(r.Context(), r.PathValue("userID"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"count": count})
}

func (h *Handler) actionStats(w http.ResponseWriter, r *http.Request) {
	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_since", "since must be RFC 3339")
			return
		}
		since = parsed
	}
	stats, err := h.lifecycle.Stats(r.Context(), r.PathValue("userID"), since)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func (h *Handler) recordTransition(to actionlog.Status) {
	if h.metrics == nil {
		return
	}
	h.metrics.TransitionsTotal.WithLabelValues(string(to)).Inc()
}

// decodeBody decodes and validates a required JSON body. Returns false
// after writing the error response when decoding or validation fails.
func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer func() { _ = r.Body.Close() }()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			respondError(w, http.StatusRequestEntityTooLarge, "body_too_large", "request body too large (max 1MB)")
			return false
		}
		respondError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON: "+err.Error())
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			respondError(w, http.StatusBadRequest, "validation_failed", formatFieldErrors(verrs))
			return false
		}
		respondError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return false
	}
	return true
}

// decodeOptionalBody is decodeBody for endpoints where an empty body is
// acceptable.
func (h *Handler) decodeOptionalBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer func() { _ = r.Body.Close() }()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return true
		}
		respondError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON: "+err.Error())
		return false
	}
	return true
}

// respondError maps a service error to an HTTP status and writes the
// error envelope.
func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := errorStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
	}
	respondError(w, status, code, err.Error())
}

// errorStatus maps domain and service errors to HTTP statuses.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, authority.ErrUnknownActionType):
		return http.StatusNotFound, "unknown_action_type"
	case errors.Is(err, actionlog.ErrNotFound):
		return http.StatusNotFound, "action_not_found"
	case errors.Is(err, actionlog.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, actionlog.ErrIrreversible):
		return http.StatusConflict, "irreversible_action"
	case errors.Is(err, actionlog.ErrExecutionFailed):
		return http.StatusConflict, "execution_failed"
	case errors.Is(err, service.ErrNoExecutor):
		return http.StatusNotImplemented, "no_executor"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// formatFieldErrors renders validator errors in a compact, field-first form.
func formatFieldErrors(errs validator.ValidationErrors) string {
	msg := ""
	for i, fe := range errs {
		if i > 0 {
			msg += "; "
		}
		msg += fe.Field() + " failed " + fe.Tag() + " validation"
	}
	return msg
}
