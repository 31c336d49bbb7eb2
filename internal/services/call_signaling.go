package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"cryptorafts/platform/internal/common"
	"cryptorafts/platform/internal/constants"
	"cryptorafts/platform/internal/db/repositories"
	"cryptorafts/platform/internal/ids"
	"cryptorafts/platform/internal/logging"
	"cryptorafts/platform/internal/metrics"
	"cryptorafts/platform/internal/models/entities"
)

var (
	ErrCallNotFound       = errors.New("call not found")
	ErrInvalidCallRecord  = errors.New("call record is malformed")
	ErrCallEnded          = errors.New("call has ended")
	ErrNotParticipant     = errors.New("user is not a call participant")
	ErrInvalidTransition  = errors.New("invalid call status transition")
	ErrInvalidCallRequest = errors.New("invalid call request")
)

// DocumentStore is the remote document-and-listen store the signaling layer runs on
type DocumentStore interface {
	Get(ctx context.Context, collection, id string) (*repositories.Snapshot, error)
	Set(ctx context.Context, collection, id string, data any) error
	Create(ctx context.Context, collection, id string, data any) error
	Update(ctx context.Context, collection, id string, fields map[string]any) error
	Delete(ctx context.Context, collection, id string) error
	Query(ctx context.Context, collection string, filters ...repositories.Filter) ([]*repositories.Snapshot, error)
	ListenDocument(ctx context.Context, collection, id string, fn func(*repositories.Snapshot)) (func(), error)
	ListenCollection(ctx context.Context, collection string, fn func([]repositories.DocumentChange)) (func(), error)
}

// Notifier writes a notification record for one user
type Notifier interface {
	NotifyIncomingCall(ctx context.Context, recipientID string, data entities.CallNotificationData) error
}

type SignalingConfig struct {
	// CleanupGrace is how long an ended call stays readable before deletion
	CleanupGrace       time.Duration
	SystemMessageDelay time.Duration
	NotifiedTTL        time.Duration
	InvalidLogTTL      time.Duration
}

func DefaultSignalingConfig() SignalingConfig {
	return SignalingConfig{
		CleanupGrace:       5 * time.Second,
		SystemMessageDelay: time.Second,
		NotifiedTTL:        5 * time.Minute,
		InvalidLogTTL:      time.Minute,
	}
}

type CallParticipant struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

type StartCallRequest struct {
	RoomID       string            `json:"roomId"`
	CallerID     string            `json:"callerId"`
	CallerName   string            `json:"callerName"`
	CallType     entities.CallType `json:"callType"`
	Participants []CallParticipant `json:"participants"`
}

var callTransitions = map[entities.CallStatus][]entities.CallStatus{
	entities.CallStatusRinging:    {entities.CallStatusConnecting, entities.CallStatusConnected, entities.CallStatusEnded},
	entities.CallStatusConnecting: {entities.CallStatusConnected, entities.CallStatusEnded},
	entities.CallStatusConnected:  {entities.CallStatusEnded},
}

// CanTransition reports whether a call may move from one status to another
func CanTransition(from, to entities.CallStatus) bool {
	for _, next := range callTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CallSignaling drives call sessions stored in the calls collection
type CallSignaling struct {
	docs     DocumentStore
	roles    RoleLookup
	notifier Notifier
	tasks    TaskRunner
	config   SignalingConfig
	metrics  *metrics.MetricsRegistry
	now      func() time.Time

	// shared by every subscription; see SubscribeIncoming
	notified      *common.DedupStore
	invalidLogged *common.DedupStore
}

// NewCallSignaling wires the signaling layer. notified is the process-wide
// incoming-call dedup store; the composer owns it so several components can share it.
func NewCallSignaling(
	docs DocumentStore,
	roles RoleLookup,
	notifier Notifier,
	tasks TaskRunner,
	notified *common.DedupStore,
	config SignalingConfig,
	m *metrics.MetricsRegistry,
) *CallSignaling {
	defaults := DefaultSignalingConfig()
	if config.NotifiedTTL <= 0 {
		config.NotifiedTTL = defaults.NotifiedTTL
	}
	if config.InvalidLogTTL <= 0 {
		config.InvalidLogTTL = defaults.InvalidLogTTL
	}
	if notified == nil {
		notified = common.NewDedupStore(config.NotifiedTTL)
	}
	return &CallSignaling{
		docs:          docs,
		roles:         roles,
		notifier:      notifier,
		tasks:         tasks,
		config:        config,
		metrics:       m,
		now:           time.Now,
		notified:      notified,
		invalidLogged: common.NewDedupStore(config.InvalidLogTTL),
	}
}

func (s *CallSignaling) count(event string) {
	if s.metrics != nil {
		s.metrics.CallEventsTotal.WithLabelValues(event).Inc()
	}
}

func callsCollection() string {
	return string(constants.CollectionCalls)
}

// StartCall creates a ringing call and returns its id. Participant
// notifications and the "call started" message are written in the background.
func (s *CallSignaling) StartCall(ctx context.Context, req StartCallRequest) (string, error) {
	if req.RoomID == "" || req.CallerID == "" {
		return "", fmt.Errorf("%w: room id and caller id are required", ErrInvalidCallRequest)
	}
	if req.CallType == "" {
		req.CallType = entities.CallTypeVoice
	}
	if !req.CallType.Valid() {
		return "", fmt.Errorf("%w: unknown call type %q", ErrInvalidCallRequest, req.CallType)
	}

	now := s.now().UTC()
	callID := ids.CallID(now, req.CallerID)
	session := entities.CallSession{
		ID:         callID,
		RoomID:     req.RoomID,
		CallerID:   req.CallerID,
		CallerName: req.CallerName,
		CallType:   req.CallType,
		StartTime:  now,
		Status:     entities.CallStatusRinging,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	for _, p := range withCaller(req) {
		state := entities.ParticipantState{UserID: p.UserID, UserName: p.UserName, Status: entities.ParticipantRinging}
		if p.UserID == req.CallerID {
			joined := now
			state.Status = entities.ParticipantConnected
			state.JoinedAt = &joined
		}
		session.Participants = append(session.Participants, state)
		session.ParticipantIDs = append(session.ParticipantIDs, p.UserID)
	}

	if err := s.docs.Create(ctx, callsCollection(), callID, session); err != nil {
		return "", fmt.Errorf("failed to create call: %w", err)
	}
	s.count("started")
	logging.Info("Call started",
		"call_id", callID,
		"room_id", req.RoomID,
		"caller_id", req.CallerID,
		"participants", len(session.Participants),
	)

	if s.tasks != nil {
		s.tasks.Submit("call_notifications", func(ctx context.Context) error {
			s.notifyParticipants(ctx, &session)
			return nil
		})
		s.tasks.SubmitAfter("call_started_message", s.config.SystemMessageDelay, func(ctx context.Context) error {
			return s.appendSystemMessage(ctx, &session, entities.CallActionStarted)
		})
	}
	return callID, nil
}

// withCaller returns the participants deduplicated by id with the caller included
func withCaller(req StartCallRequest) []CallParticipant {
	seen := make(map[string]struct{}, len(req.Participants)+1)
	out := make([]CallParticipant, 0, len(req.Participants)+1)
	callerListed := false
	for _, p := range req.Participants {
		if p.UserID == req.CallerID {
			callerListed = true
			break
		}
	}
	if !callerListed {
		out = append(out, CallParticipant{UserID: req.CallerID, UserName: req.CallerName})
		seen[req.CallerID] = struct{}{}
	}
	for _, p := range req.Participants {
		if p.UserID == "" {
			continue
		}
		if _, dup := seen[p.UserID]; dup {
			continue
		}
		seen[p.UserID] = struct{}{}
		out = append(out, p)
	}
	return out
}

// CallDeepLink is the in-app location that opens callID for a user of role
func CallDeepLink(role constants.Role, roomID, callID string) string {
	q := url.Values{}
	q.Set("room", roomID)
	q.Set("call", callID)
	if role.IsAssigned() {
		return "/" + string(role) + "/messages?" + q.Encode()
	}
	return "/messages?" + q.Encode()
}

func (s *CallSignaling) notifyParticipants(ctx context.Context, session *entities.CallSession) {
	for _, p := range session.Participants {
		if p.UserID == session.CallerID {
			continue
		}

		role := constants.RoleUser
		if s.roles != nil {
			r, err := s.roles.GetRole(ctx, p.UserID)
			if err != nil {
				logging.Warn("Role lookup failed for call notification", "call_id", session.ID, "user_id", p.UserID, "error", err)
			} else {
				role = r
			}
		}

		data := entities.CallNotificationData{
			CallID:     session.ID,
			RoomID:     session.RoomID,
			CallerID:   session.CallerID,
			CallerName: session.CallerName,
			CallType:   session.CallType,
			Link:       CallDeepLink(role, session.RoomID, session.ID),
		}
		if err := s.notifier.NotifyIncomingCall(ctx, p.UserID, data); err != nil {
			logging.Warn("Failed to notify call participant", "call_id", session.ID, "user_id", p.UserID, "error", err)
			continue
		}
		logging.Debug("Call participant notified", "call_id", session.ID, "user_id", p.UserID)
	}
}

// systemMessageID is deterministic so the store rejects a second append for the same action
func systemMessageID(callID string, action entities.CallAction) string {
	return callID + "_" + string(action)
}

func (s *CallSignaling) appendSystemMessage(ctx context.Context, session *entities.CallSession, action entities.CallAction) error {
	msg := entities.SystemMessage{
		ID:         systemMessageID(session.ID, action),
		RoomID:     session.RoomID,
		SenderID:   "system",
		SenderName: "System",
		Text:       fmt.Sprintf("%s call %s", session.CallType.Label(), action),
		Type:       "system",
		CallID:     session.ID,
		CallAction: action,
		CreatedAt:  s.now().UTC(),
	}
	err := s.docs.Create(ctx, constants.RoomMessagesCollection(session.RoomID), msg.ID, msg)
	if errors.Is(err, repositories.ErrDocumentExists) {
		logging.Debug("Call system message already present", "call_id", session.ID, "action", action)
		return nil
	}
	return err
}

// GetCall loads and validates a call
func (s *CallSignaling) GetCall(ctx context.Context, callID string) (*entities.CallSession, error) {
	snap, err := s.docs.Get(ctx, callsCollection(), callID)
	if err != nil {
		if errors.Is(err, repositories.ErrDocumentNotFound) {
			return nil, fmt.Errorf("%s: %w", callID, ErrCallNotFound)
		}
		return nil, err
	}
	session, err := entities.DecodeCallSession(snap.Data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", callID, ErrInvalidCallRecord, err)
	}
	return session, nil
}

// JoinCall connects userID to the call. Unlike the read paths, a missing or
// malformed call is an error here so the caller can tell the join failed.
func (s *CallSignaling) JoinCall(ctx context.Context, callID, userID string) error {
	session, err := s.GetCall(ctx, callID)
	if err != nil {
		return err
	}
	if session.Status == entities.CallStatusEnded {
		return fmt.Errorf("%s: %w", callID, ErrCallEnded)
	}
	participant, ok := session.Participant(userID)
	if !ok {
		return fmt.Errorf("%s: %w", callID, ErrNotParticipant)
	}

	now := s.now().UTC()
	participant.Status = entities.ParticipantConnected
	participant.JoinedAt = &now

	fields := map[string]any{
		"participants": session.Participants,
		"updatedAt":    now,
	}
	if userID != session.CallerID && session.Status != entities.CallStatusConnected {
		fields["status"] = entities.CallStatusConnected
	}
	if err := s.docs.Update(ctx, callsCollection(), callID, fields); err != nil {
		if errors.Is(err, repositories.ErrDocumentNotFound) {
			return fmt.Errorf("%s: %w", callID, ErrCallNotFound)
		}
		return fmt.Errorf("failed to join call %s: %w", callID, err)
	}

	s.count("joined")
	logging.Info("Call joined", "call_id", callID, "user_id", userID)
	return nil
}

// LeaveCall disconnects userID. The call ends once nobody is left connected.
func (s *CallSignaling) LeaveCall(ctx context.Context, callID, userID string) error {
	session, err := s.GetCall(ctx, callID)
	if err != nil {
		return err
	}
	if session.Status == entities.CallStatusEnded {
		return nil
	}
	participant, ok := session.Participant(userID)
	if !ok {
		return fmt.Errorf("%s: %w", callID, ErrNotParticipant)
	}
	participant.Status = entities.ParticipantDisconnected

	if err := s.docs.Update(ctx, callsCollection(), callID, map[string]any{
		"participants": session.Participants,
		"updatedAt":    s.now().UTC(),
	}); err != nil {
		if errors.Is(err, repositories.ErrDocumentNotFound) {
			return nil
		}
		return fmt.Errorf("failed to leave call %s: %w", callID, err)
	}
	s.count("left")
	logging.Info("Call left", "call_id", callID, "user_id", userID)

	for _, p := range session.Participants {
		if p.Status == entities.ParticipantConnected {
			return nil
		}
	}
	return s.EndCall(ctx, callID)
}

// EndCall moves the call to ended and schedules its deletion. Ending a call
// that is already gone, or already ended, is not an error.
func (s *CallSignaling) EndCall(ctx context.Context, callID string) error {
	snap, err := s.docs.Get(ctx, callsCollection(), callID)
	if err != nil {
		if errors.Is(err, repositories.ErrDocumentNotFound) {
			logging.Debug("Call already gone, treating as ended", "call_id", callID)
			return nil
		}
		return err
	}

	// participants are not needed to end a call, so malformed records can still be ended
	var session entities.CallSession
	var header struct {
		RoomID   string              `json:"roomId"`
		CallType entities.CallType   `json:"callType"`
		Status   entities.CallStatus `json:"status"`
	}
	if err := json.Unmarshal(snap.Data, &header); err != nil {
		logging.Warn("Ending unreadable call record", "call_id", callID, "error", err)
	}
	if header.Status == entities.CallStatusEnded {
		return nil
	}
	session.ID = callID
	session.RoomID = header.RoomID
	session.CallType = header.CallType

	now := s.now().UTC()
	err = s.docs.Update(ctx, callsCollection(), callID, map[string]any{
		"status":    entities.CallStatusEnded,
		"endTime":   now,
		"updatedAt": now,
	})
	if err != nil {
		if errors.Is(err, repositories.ErrDocumentNotFound) {
			logging.Debug("Call deleted while ending, treating as ended", "call_id", callID)
			return nil
		}
		return fmt.Errorf("failed to end call %s: %w", callID, err)
	}
	s.count("ended")
	logging.Info("Call ended", "call_id", callID, "room_id", session.RoomID)

	if s.tasks != nil {
		if session.RoomID != "" {
			s.tasks.Submit("call_ended_message", func(ctx context.Context) error {
				return s.appendSystemMessage(ctx, &session, entities.CallActionEnded)
			})
		}
		s.tasks.SubmitAfter("call_cleanup", s.config.CleanupGrace, func(ctx context.Context) error {
			return s.deleteCall(ctx, callID)
		})
	}
	return nil
}

func (s *CallSignaling) deleteCall(ctx context.Context, callID string) error {
	err := s.docs.Delete(ctx, callsCollection(), callID)
	if err != nil && !errors.Is(err, repositories.ErrDocumentNotFound) {
		return err
	}
	logging.Debug("Call document removed", "call_id", callID)
	return nil
}

// SetStatus moves the call along the status graph
func (s *CallSignaling) SetStatus(ctx context.Context, callID string, status entities.CallStatus) error {
	if status == entities.CallStatusEnded {
		return s.EndCall(ctx, callID)
	}
	session, err := s.GetCall(ctx, callID)
	if err != nil {
		return err
	}
	if session.Status == status {
		return nil
	}
	if !CanTransition(session.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, session.Status, status)
	}

	if err := s.docs.Update(ctx, callsCollection(), callID, map[string]any{
		"status":    status,
		"updatedAt": s.now().UTC(),
	}); err != nil {
		if errors.Is(err, repositories.ErrDocumentNotFound) {
			return fmt.Errorf("%s: %w", callID, ErrCallNotFound)
		}
		return fmt.Errorf("failed to update call %s: %w", callID, err)
	}
	s.count("status_" + string(status))
	return nil
}

func (s *CallSignaling) logInvalidOnce(callID string, err error) {
	if s.invalidLogged.MarkIfAbsent(callID) {
		logging.Warn("Skipping malformed call record", "call_id", callID, "error", err)
	}
}

// Subscribe calls cb with the call on every change. cb receives nil when the
// call does not exist or is malformed.
func (s *CallSignaling) Subscribe(ctx context.Context, callID string, cb func(*entities.CallSession)) (func(), error) {
	return s.docs.ListenDocument(ctx, callsCollection(), callID, func(snap *repositories.Snapshot) {
		if snap == nil {
			cb(nil)
			return
		}
		session, err := entities.DecodeCallSession(snap.Data)
		if err != nil {
			s.logInvalidOnce(callID, err)
			cb(nil)
			return
		}
		cb(session)
	})
}

func incomingKey(userID, callID string) string {
	return userID + ":" + callID
}

// SubscribeIncoming calls cb once for each newly added call that is ringing
// for userID as a non-initiator. Delivery is deduplicated per subscription and
// across all subscriptions through the shared notified store.
func (s *CallSignaling) SubscribeIncoming(ctx context.Context, userID string, cb func(*entities.CallSession)) (func(), error) {
	local := common.NewDedupStore(s.config.NotifiedTTL)

	return s.docs.ListenCollection(ctx, callsCollection(), func(changes []repositories.DocumentChange) {
		for _, change := range changes {
			if change.Type != common.ChangeAdded || change.Doc == nil {
				continue
			}
			session, err := entities.DecodeCallSession(change.Doc.Data)
			if err != nil {
				s.logInvalidOnce(change.Doc.ID, err)
				continue
			}
			if !session.IsIncomingFor(userID) {
				continue
			}

			key := incomingKey(userID, session.ID)
			if local.Seen(key) {
				continue
			}
			local.Mark(key)
			if !s.notified.MarkIfAbsent(key) {
				continue
			}

			s.count("incoming_delivered")
			logging.Debug("Incoming call delivered", "call_id", session.ID, "user_id", userID)
			cb(session)
		}
	})
}
