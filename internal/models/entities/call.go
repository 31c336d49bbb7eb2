package entities

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type CallStatus string

const (
	CallStatusRinging    CallStatus = "ringing"
	CallStatusConnecting CallStatus = "connecting"
	CallStatusConnected  CallStatus = "connected"
	CallStatusEnded      CallStatus = "ended"
)

type CallType string

const (
	CallTypeVoice CallType = "voice"
	CallTypeVideo CallType = "video"
)

func (t CallType) Valid() bool {
	return t == CallTypeVoice || t == CallTypeVideo
}

// Label is the human form used in system messages ("Video call started")
func (t CallType) Label() string {
	if t == CallTypeVideo {
		return "Video"
	}
	return "Voice"
}

type ParticipantStatus string

const (
	ParticipantRinging      ParticipantStatus = "ringing"
	ParticipantConnected    ParticipantStatus = "connected"
	ParticipantDisconnected ParticipantStatus = "disconnected"
)

type ParticipantState struct {
	UserID   string            `json:"userId"`
	UserName string            `json:"userName"`
	Status   ParticipantStatus `json:"status"`
	JoinedAt *time.Time        `json:"joinedAt,omitempty"`
}

// CallSession is a document of the calls collection
type CallSession struct {
	ID             string             `json:"callId"`
	RoomID         string             `json:"roomId"`
	CallerID       string             `json:"callerId"`
	CallerName     string             `json:"callerName"`
	CallType       CallType           `json:"callType"`
	Participants   []ParticipantState `json:"participants"`
	ParticipantIDs []string           `json:"participantIds"`
	StartTime      time.Time          `json:"startTime"`
	EndTime        *time.Time         `json:"endTime,omitempty"`
	Status         CallStatus         `json:"status"`
	CreatedAt      time.Time          `json:"createdAt"`
	UpdatedAt      time.Time          `json:"updatedAt"`
}

var ErrMalformedCall = errors.New("malformed call record")

// DecodeCallSession parses a stored call and rejects records whose
// participants field is missing or not a list.
func DecodeCallSession(data []byte) (*CallSession, error) {
	var probe struct {
		Participants json.RawMessage `json:"participants"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCall, err)
	}
	raw := bytes.TrimSpace(probe.Participants)
	if len(raw) == 0 || raw[0] != '[' {
		return nil, fmt.Errorf("%w: participants missing or not a list", ErrMalformedCall)
	}

	var session CallSession
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCall, err)
	}
	return &session, nil
}

// Participant returns the entry for userID
func (c *CallSession) Participant(userID string) (*ParticipantState, bool) {
	for i := range c.Participants {
		if c.Participants[i].UserID == userID {
			return &c.Participants[i], true
		}
	}
	return nil, false
}

func (c *CallSession) HasParticipant(userID string) bool {
	for _, id := range c.ParticipantIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// IsIncomingFor reports whether the call is ringing for userID as a non-initiator
func (c *CallSession) IsIncomingFor(userID string) bool {
	return c.Status == CallStatusRinging &&
		c.CallerID != userID &&
		c.HasParticipant(userID)
}

// InSync reports whether participants and participantIds name the same users
func (c *CallSession) InSync() bool {
	if len(c.Participants) != len(c.ParticipantIDs) {
		return false
	}
	ids := make(map[string]struct{}, len(c.ParticipantIDs))
	for _, id := range c.ParticipantIDs {
		ids[id] = struct{}{}
	}
	for _, p := range c.Participants {
		if _, ok := ids[p.UserID]; !ok {
			return false
		}
	}
	return len(ids) == len(c.ParticipantIDs)
}
