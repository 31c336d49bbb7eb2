package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"cryptorafts/platform/internal/common"
	"cryptorafts/platform/internal/constants"
	"cryptorafts/platform/internal/logging"
	"cryptorafts/platform/internal/models/entities"
	"cryptorafts/platform/internal/services"
)

type startCallRequest struct {
	RoomID       string                     `json:"roomId"`
	CallerName   string                     `json:"callerName"`
	CallType     entities.CallType          `json:"callType"`
	Participants []services.CallParticipant `json:"participants"`
}

type startCallResponse struct {
	CallID string `json:"callId"`
}

type setStatusRequest struct {
	Status entities.CallStatus `json:"status"`
}

type callGoneEvent struct {
	CallID string `json:"callId"`
}

func callErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, services.ErrCallNotFound):
		return http.StatusNotFound, constants.MsgCallNotFound
	case errors.Is(err, services.ErrInvalidCallRecord):
		return http.StatusUnprocessableEntity, constants.MsgCallInvalid
	case errors.Is(err, services.ErrCallEnded):
		return http.StatusConflict, constants.MsgCallEnded
	case errors.Is(err, services.ErrNotParticipant):
		return http.StatusForbidden, constants.MsgNotCallParticipant
	case errors.Is(err, services.ErrInvalidTransition):
		return http.StatusConflict, constants.MsgInvalidCallTransition
	case errors.Is(err, services.ErrInvalidCallRequest):
		return http.StatusBadRequest, err.Error()
	}
	return http.StatusInternalServerError, "Call operation failed"
}

func writeCallError(w http.ResponseWriter, r *http.Request, err error) {
	code, msg := callErrorStatus(err)
	if code == http.StatusInternalServerError {
		logging.Error("Call operation failed", "path", r.URL.Path, "error", err)
	}
	common.RespondError(w, code, msg)
}

// participantCall loads the call and checks that userID belongs to it
func (h *Handlers) participantCall(r *http.Request, userID string) (*entities.CallSession, error) {
	session, err := h.deps.Services.Calls.GetCall(r.Context(), chi.URLParam(r, "callID"))
	if err != nil {
		return nil, err
	}
	if !session.HasParticipant(userID) {
		return nil, services.ErrNotParticipant
	}
	return session, nil
}

// StartCall handles POST /api/v1/calls
func (h *Handlers) StartCall() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := currentUser(w, r)
		if !ok {
			return
		}
		var req startCallRequest
		if err := decodeBody(r, &req); err != nil {
			common.RespondError(w, http.StatusBadRequest, constants.MsgInvalidRequestBody)
			return
		}

		callerName := req.CallerName
		if callerName == "" {
			callerName = user.Email
		}
		callID, err := h.deps.Services.Calls.StartCall(r.Context(), services.StartCallRequest{
			RoomID:       req.RoomID,
			CallerID:     user.ID,
			CallerName:   callerName,
			CallType:     req.CallType,
			Participants: req.Participants,
		})
		if err != nil {
			writeCallError(w, r, err)
			return
		}
		common.RespondSuccess(w, http.StatusCreated, &startCallResponse{CallID: callID})
	}
}

// GetCall handles GET /api/v1/calls/{callID}
func (h *Handlers) GetCall() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := currentUser(w, r)
		if !ok {
			return
		}
		session, err := h.participantCall(r, user.ID)
		if err != nil {
			writeCallError(w, r, err)
			return
		}
		common.RespondSuccess(w, http.StatusOK, session)
	}
}

// JoinCall handles POST /api/v1/calls/{callID}/join
func (h *Handlers) JoinCall() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := currentUser(w, r)
		if !ok {
			return
		}
		if err := h.deps.Services.Calls.JoinCall(r.Context(), chi.URLParam(r, "callID"), user.ID); err != nil {
			writeCallError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// LeaveCall handles POST /api/v1/calls/{callID}/leave
func (h *Handlers) LeaveCall() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := currentUser(w, r)
		if !ok {
			return
		}
		if err := h.deps.Services.Calls.LeaveCall(r.Context(), chi.URLParam(r, "callID"), user.ID); err != nil {
			writeCallError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// EndCall handles POST /api/v1/calls/{callID}/end. Ending a call that no
// longer exists succeeds.
func (h *Handlers) EndCall() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := currentUser(w, r)
		if !ok {
			return
		}
		callID := chi.URLParam(r, "callID")
		if _, err := h.participantCall(r, user.ID); err != nil &&
			!errors.Is(err, services.ErrCallNotFound) && !errors.Is(err, services.ErrInvalidCallRecord) {
			writeCallError(w, r, err)
			return
		}
		if err := h.deps.Services.Calls.EndCall(r.Context(), callID); err != nil {
			writeCallError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// SetCallStatus handles PUT /api/v1/calls/{callID}/status
func (h *Handlers) SetCallStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := currentUser(w, r)
		if !ok {
			return
		}
		var req setStatusRequest
		if err := decodeBody(r, &req); err != nil || req.Status == "" {
			common.RespondError(w, http.StatusBadRequest, constants.MsgInvalidRequestBody)
			return
		}
		if _, err := h.participantCall(r, user.ID); err != nil {
			writeCallError(w, r, err)
			return
		}
		if err := h.deps.Services.Calls.SetStatus(r.Context(), chi.URLParam(r, "callID"), req.Status); err != nil {
			writeCallError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// CallEvents handles GET /api/v1/calls/{callID}/events as a server-sent event
// stream. A "call" event carries the session; "call_gone" is sent while the
// call is absent or unreadable.
func (h *Handlers) CallEvents() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := currentUser(w, r)
		if !ok {
			return
		}
		callID := chi.URLParam(r, "callID")
		if _, err := h.participantCall(r, user.ID); err != nil {
			writeCallError(w, r, err)
			return
		}

		stream, ok := newSSEStream(w)
		if !ok {
			common.RespondError(w, http.StatusInternalServerError, constants.MsgStreamingUnsupported)
			return
		}

		ctx := r.Context()
		events := make(chan sseEvent, 16)
		stop, err := h.deps.Services.Calls.Subscribe(ctx, callID, func(session *entities.CallSession) {
			if session == nil {
				offer(ctx, events, sseEvent{name: "call_gone", data: callGoneEvent{CallID: callID}})
				return
			}
			offer(ctx, events, sseEvent{name: "call", data: session})
		})
		if err != nil {
			logging.Error("Call subscription failed", "call_id", callID, "error", err)
			return
		}
		defer stop()

		stream.pump(ctx, events)
	}
}

// IncomingCalls handles GET /api/v1/calls/incoming as a server-sent event
// stream of calls ringing for the current user.
func (h *Handlers) IncomingCalls() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := currentUser(w, r)
		if !ok {
			return
		}
		stream, ok := newSSEStream(w)
		if !ok {
			common.RespondError(w, http.StatusInternalServerError, constants.MsgStreamingUnsupported)
			return
		}

		ctx := r.Context()
		events := make(chan sseEvent, 16)
		stop, err := h.deps.Services.Calls.SubscribeIncoming(ctx, user.ID, func(session *entities.CallSession) {
			offer(ctx, events, sseEvent{name: "incoming_call", data: session})
		})
		if err != nil {
			logging.Error("Incoming call subscription failed", "user_id", user.ID, "error", err)
			return
		}
		defer stop()

		stream.pump(ctx, events)
	}
}
