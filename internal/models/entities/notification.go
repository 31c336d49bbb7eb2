package entities

import "time"

const NotificationTypeIncomingCall = "incoming_call"

type CallNotificationData struct {
	CallID     string   `json:"callId"`
	RoomID     string   `json:"roomId"`
	CallerID   string   `json:"callerId"`
	CallerName string   `json:"callerName"`
	CallType   CallType `json:"callType"`
	Link       string   `json:"link"`
}

// Notification is a document of the notifications collection
type Notification struct {
	ID        string                `json:"id"`
	UserID    string                `json:"userId"`
	Type      string                `json:"type"`
	Title     string                `json:"title"`
	Message   string                `json:"message"`
	Data      *CallNotificationData `json:"data,omitempty"`
	Read      bool                  `json:"read"`
	CreatedAt time.Time             `json:"createdAt"`
}
