package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/MarcoPoloResearchLab/corkboard/internal/kvstore"
	"go.uber.org/zap"
)

// KeyUsername holds the display name bound to the current profile.
const KeyUsername = "forum_username"

// MaxUsernameLength bounds display names in characters.
const MaxUsernameLength = 20

var (
	// ErrBlankUsername indicates the name was empty after trimming.
	ErrBlankUsername = errors.New("users: username is blank")
	// ErrUsernameTooLong indicates the name exceeds MaxUsernameLength characters.
	ErrUsernameTooLong = fmt.Errorf("users: username exceeds %d characters", MaxUsernameLength)
)

// ServiceConfig describes the dependencies required for username management.
type ServiceConfig struct {
	Store  kvstore.Store
	Logger *zap.Logger
}

// Service reads and writes the profile display name.
type Service struct {
	store  kvstore.Store
	logger *zap.Logger
}

// NewService constructs the username service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("users: store required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: cfg.Store, logger: logger}, nil
}

// ValidateUsername trims the name and checks it against the display-name rules.
func ValidateUsername(value string) (string, error) {
	trimmed := normalize(value)
	if trimmed == "" {
		return "", ErrBlankUsername
	}
	if utf8.RuneCountInString(trimmed) > MaxUsernameLength {
		return "", ErrUsernameTooLong
	}
	return trimmed, nil
}

// Username returns the stored display name. A blank record counts as unset.
func (s *Service) Username(ctx context.Context) (string, bool, error) {
	value, ok, err := s.store.Get(ctx, KeyUsername)
	if err != nil {
		s.logger.Error("username read failed", zap.Error(err))
		return "", false, fmt.Errorf("users: read username: %w", err)
	}
	value = normalize(value)
	if !ok || value == "" {
		return "", false, nil
	}
	return value, true, nil
}

// SetUsername stores the trimmed name. Length rules are the caller's concern.
func (s *Service) SetUsername(ctx context.Context, value string) (string, error) {
	trimmed := normalize(value)
	if trimmed == "" {
		return "", ErrBlankUsername
	}
	if err := s.store.Set(ctx, KeyUsername, trimmed); err != nil {
		s.logger.Error("username write failed", zap.Error(err))
		return "", fmt.Errorf("users: write username: %w", err)
	}
	return trimmed, nil
}

// ClearUsername removes the display name, returning the profile to unregistered.
func (s *Service) ClearUsername(ctx context.Context) error {
	if err := s.store.Delete(ctx, KeyUsername); err != nil {
		s.logger.Error("username clear failed", zap.Error(err))
		return fmt.Errorf("users: clear username: %w", err)
	}
	return nil
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
