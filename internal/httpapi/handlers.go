package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/AakashB275/BrandModel/internal/app"
	"github.com/AakashB275/BrandModel/internal/engine"
	"github.com/AakashB275/BrandModel/internal/lifecycle"
	"github.com/AakashB275/BrandModel/internal/model"
	"github.com/AakashB275/BrandModel/internal/queue"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 64 << 10

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type handler struct {
	core   Core
	logger *zap.Logger
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func (h *handler) badRequest(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusBadRequest, apiError{Code: "INVALID_REQUEST", Message: err.Error()})
}

// fail maps core errors to responses.
func (h *handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := http.StatusInternalServerError, "INTERNAL"
	switch {
	case errors.Is(err, model.ErrInvalidPayload):
		status, code = http.StatusBadRequest, "INVALID_PAYLOAD"
	case errors.Is(err, app.ErrMatchNotFound), errors.Is(err, app.ErrUserNotFound),
		errors.Is(err, queue.ErrNotFound):
		status, code = http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, app.ErrNotParticipant):
		status, code = http.StatusForbidden, "NOT_PARTICIPANT"
	case errors.Is(err, app.ErrMatchExpired):
		status, code = http.StatusConflict, "MATCH_EXPIRED"
	case errors.Is(err, app.ErrMatchInactive):
		status, code = http.StatusConflict, "MATCH_INACTIVE"
	case errors.Is(err, engine.ErrDrainInProgress):
		status, code = http.StatusConflict, "DRAIN_IN_PROGRESS"
	case engine.IsLocalPersistence(err):
		status, code = http.StatusServiceUnavailable, "LOCAL_PERSISTENCE"
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeJSON(w, status, apiError{Code: code, Message: err.Error()})
}

func (h *handler) accepted(w http.ResponseWriter, a model.PendingAction) {
	writeJSON(w, http.StatusAccepted, map[string]any{"action": a})
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "online": h.core.Online()})
}

type swipeRequest struct {
	TargetID  string `json:"targetId"`
	Direction string `json:"direction"`
}

func (h *handler) swipe(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFrom(r.Context())
	var req swipeRequest
	if err := decodeBody(r, &req); err != nil {
		h.badRequest(w, err)
		return
	}
	dir, err := model.ParseDirection(req.Direction)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	a, err := h.core.EnqueueSwipe(r.Context(), user, req.TargetID, dir)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.accepted(w, a)
}

func (h *handler) updateProfile(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFrom(r.Context())
	var fields map[string]any
	if err := decodeBody(r, &fields); err != nil {
		h.badRequest(w, err)
		return
	}
	a, err := h.core.EnqueueProfileUpdate(r.Context(), user, fields)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.accepted(w, a)
}

func (h *handler) listMatches(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFrom(r.Context())
	views, err := h.core.Matches(r.Context(), user)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if views == nil {
		views = []lifecycle.View{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"matches": views})
}

func (h *handler) matchView(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFrom(r.Context())
	v, err := h.core.MatchView(r.Context(), chi.URLParam(r, "id"), user)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

type messageRequest struct {
	Text string `json:"text"`
}

func (h *handler) sendMessage(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFrom(r.Context())
	var req messageRequest
	if err := decodeBody(r, &req); err != nil {
		h.badRequest(w, err)
		return
	}
	a, err := h.core.EnqueueMessage(r.Context(), chi.URLParam(r, "id"), user, req.Text)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.accepted(w, a)
}

func (h *handler) unmatch(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFrom(r.Context())
	a, err := h.core.RequestUnmatch(r.Context(), chi.URLParam(r, "id"), user)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.accepted(w, a)
}

type reportRequest struct {
	ReportedUserID string `json:"reportedUserId"`
	Reason         string `json:"reason"`
	Details        string `json:"details"`
}

func (h *handler) report(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFrom(r.Context())
	var req reportRequest
	if err := decodeBody(r, &req); err != nil {
		h.badRequest(w, err)
		return
	}
	a, err := h.core.EnqueueReport(r.Context(), user, req.ReportedUserID, req.Reason, req.Details)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.accepted(w, a)
}

type blockRequest struct {
	TargetID string `json:"targetId"`
}

func (h *handler) block(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFrom(r.Context())
	var req blockRequest
	if err := decodeBody(r, &req); err != nil {
		h.badRequest(w, err)
		return
	}
	a, err := h.core.RequestBlock(r.Context(), user, req.TargetID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.accepted(w, a)
}

func (h *handler) listQueue(w http.ResponseWriter, r *http.Request) {
	actions, err := h.core.Pending(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if actions == nil {
		actions = []model.PendingAction{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"actions": actions})
}

func (h *handler) listDeadLetters(w http.ResponseWriter, r *http.Request) {
	dls, err := h.core.DeadLetters(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if dls == nil {
		dls = []model.DeadLetter{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"deadLetters": dls})
}

func (h *handler) requeue(w http.ResponseWriter, r *http.Request) {
	a, err := h.core.Requeue(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.accepted(w, a)
}

func (h *handler) drain(w http.ResponseWriter, r *http.Request) {
	report, err := h.core.Drain(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
