package services

import (
	"context"
	"fmt"

	"golang.org/x/sync/singleflight"

	"cryptorafts/platform/internal/constants"
	"cryptorafts/platform/internal/db/repositories"
	"cryptorafts/platform/internal/models/entities"
)

// UserFetcher loads user documents from the remote store
type UserFetcher interface {
	GetUser(ctx context.Context, userID string) (*entities.UserDocument, error)
}

// RoleLookup resolves the role of a user id
type RoleLookup interface {
	GetRole(ctx context.Context, userID string) (constants.Role, error)
}

// UserService fronts the users collection. Concurrent fetches of the same
// user share one store round trip.
type UserService struct {
	repo  *repositories.UserRepository
	group singleflight.Group
}

func NewUserService(repo *repositories.UserRepository) *UserService {
	return &UserService{repo: repo}
}

// GetUser returns the user document; a missing user wraps repositories.ErrDocumentNotFound
func (s *UserService) GetUser(ctx context.Context, userID string) (*entities.UserDocument, error) {
	v, err, _ := s.group.Do(userID, func() (interface{}, error) {
		return s.repo.GetUser(ctx, userID)
	})
	if err != nil {
		return nil, err
	}
	user := *v.(*entities.UserDocument)
	return &user, nil
}

func (s *UserService) GetRole(ctx context.Context, userID string) (constants.Role, error) {
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return constants.RoleUser, err
	}
	return user.EffectiveRole(), nil
}

func (s *UserService) SaveUser(ctx context.Context, user *entities.UserDocument) error {
	if err := s.repo.SaveUser(ctx, user); err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}
