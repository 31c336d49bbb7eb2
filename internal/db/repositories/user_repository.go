package repositories

import (
	"context"
	"errors"
	"fmt"

	"cryptorafts/platform/internal/constants"
	"cryptorafts/platform/internal/models/entities"
)

// UserRepository is the typed view of the users collection
type UserRepository struct {
	docs *DocumentRepository
}

func NewUserRepository(docs *DocumentRepository) *UserRepository {
	return &UserRepository{docs: docs}
}

// GetUser returns the user document; a missing user wraps ErrDocumentNotFound
func (r *UserRepository) GetUser(ctx context.Context, userID string) (*entities.UserDocument, error) {
	if userID == "" {
		return nil, errors.New("user id is required")
	}
	snap, err := r.docs.Get(ctx, string(constants.CollectionUsers), userID)
	if err != nil {
		return nil, err
	}

	var user entities.UserDocument
	if err := snap.DataTo(&user); err != nil {
		return nil, fmt.Errorf("failed to decode user %s: %w", userID, err)
	}
	if user.ID == "" {
		user.ID = userID
	}
	return &user, nil
}

// GetRole returns the stored role of a user, "user" when none is set
func (r *UserRepository) GetRole(ctx context.Context, userID string) (constants.Role, error) {
	user, err := r.GetUser(ctx, userID)
	if err != nil {
		return constants.RoleUser, err
	}
	return user.EffectiveRole(), nil
}

func (r *UserRepository) SaveUser(ctx context.Context, user *entities.UserDocument) error {
	if user == nil || user.ID == "" {
		return errors.New("user id is required")
	}
	return r.docs.Set(ctx, string(constants.CollectionUsers), user.ID, user)
}
