package entities

import "time"

type CallAction string

const (
	CallActionStarted CallAction = "started"
	CallActionEnded   CallAction = "ended"
)

// SystemMessage is an automatic entry in a chat room's message log
type SystemMessage struct {
	ID         string     `json:"id"`
	RoomID     string     `json:"roomId"`
	SenderID   string     `json:"senderId"`
	SenderName string     `json:"senderName"`
	Text       string     `json:"text"`
	Type       string     `json:"type"`
	CallID     string     `json:"callId"`
	CallAction CallAction `json:"callAction"`
	CreatedAt  time.Time  `json:"createdAt"`
}
