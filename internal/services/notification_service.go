package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"cryptorafts/platform/internal/constants"
	"cryptorafts/platform/internal/db/repositories"
	"cryptorafts/platform/internal/ids"
	"cryptorafts/platform/internal/models/entities"
)

// NotificationService writes and lists records of the notifications collection
type NotificationService struct {
	docs DocumentStore
	now  func() time.Time
}

func NewNotificationService(docs DocumentStore) *NotificationService {
	return &NotificationService{docs: docs, now: time.Now}
}

// NotifyIncomingCall tells recipientID about a ringing call
func (s *NotificationService) NotifyIncomingCall(ctx context.Context, recipientID string, data entities.CallNotificationData) error {
	n := entities.Notification{
		ID:        ids.NotificationID(),
		UserID:    recipientID,
		Type:      entities.NotificationTypeIncomingCall,
		Title:     fmt.Sprintf("Incoming %s call", data.CallType),
		Message:   fmt.Sprintf("%s is calling you", data.CallerName),
		Data:      &data,
		CreatedAt: s.now().UTC(),
	}
	if err := s.docs.Set(ctx, string(constants.CollectionNotifications), n.ID, n); err != nil {
		return fmt.Errorf("failed to notify %s: %w", recipientID, err)
	}
	return nil
}

// ListForUser returns the notifications of userID, newest first
func (s *NotificationService) ListForUser(ctx context.Context, userID string, unreadOnly bool) ([]entities.Notification, error) {
	snaps, err := s.docs.Query(ctx, string(constants.CollectionNotifications), repositories.Where("userId", userID))
	if err != nil {
		return nil, err
	}

	out := make([]entities.Notification, 0, len(snaps))
	for _, snap := range snaps {
		var n entities.Notification
		if err := snap.DataTo(&n); err != nil {
			continue
		}
		if unreadOnly && n.Read {
			continue
		}
		out = append(out, n)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// MarkRead flags one notification of userID as read
func (s *NotificationService) MarkRead(ctx context.Context, userID, notificationID string) error {
	snap, err := s.docs.Get(ctx, string(constants.CollectionNotifications), notificationID)
	if err != nil {
		return err
	}
	var n entities.Notification
	if err := snap.DataTo(&n); err != nil {
		return err
	}
	if n.UserID != userID {
		return fmt.Errorf("notification %s: %w", notificationID, repositories.ErrDocumentNotFound)
	}
	return s.docs.Update(ctx, string(constants.CollectionNotifications), notificationID, map[string]any{"read": true})
}
