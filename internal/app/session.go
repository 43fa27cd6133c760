package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"tails/api/internal/auth"
	"tails/api/internal/session"
)

// Session is the caller identity resolved from a bearer token.
type Session struct {
	Token     string
	OwnerID   string
	OwnerName string
	JTI       string
	ExpiresAt time.Time
}

// IssueToken signs a token for ownerID valid for ttl (the configured access
// TTL when ttl is zero) and registers it when a registry is configured.
func (s *Service) IssueToken(ctx context.Context, ownerID, name string, ttl time.Duration) (Session, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return Session{}, domainError(KindInvalidInput, "owner is required", nil)
	}
	if ttl <= 0 {
		ttl = s.cfg.AccessTTL
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = ownerID
	}

	claims := auth.NewClaims(ownerID, name, ttl, s.now())
	token, err := auth.IssueToken([]byte(s.cfg.TokenSecret), claims)
	if err != nil {
		return Session{}, err
	}
	if s.sessions != nil {
		if err := s.sessions.Register(ctx, claims.JTI, ownerID, claims.ExpiresAt()); err != nil {
			return Session{}, fmt.Errorf("register token: %w", err)
		}
	}
	return Session{
		Token:     token,
		OwnerID:   ownerID,
		OwnerName: name,
		JTI:       claims.JTI,
		ExpiresAt: claims.ExpiresAt(),
	}, nil
}

// SessionFromToken verifies token and, when a registry is configured, that
// it has not been revoked.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return Session{}, err
	}
	if s.sessions != nil {
		ownerID, err := s.sessions.Lookup(ctx, claims.JTI)
		if errors.Is(err, session.ErrUnknownToken) {
			return Session{}, auth.ErrInvalidToken
		}
		if err != nil {
			return Session{}, err
		}
		if ownerID != claims.Sub {
			return Session{}, auth.ErrInvalidToken
		}
	}
	return Session{
		Token:     token,
		OwnerID:   claims.Sub,
		OwnerName: claims.Name,
		JTI:       claims.JTI,
		ExpiresAt: claims.ExpiresAt(),
	}, nil
}

// Logout revokes the session's token. Without a registry tokens stay valid
// until they expire.
func (s *Service) Logout(ctx context.Context, current Session) error {
	if s.sessions == nil || current.JTI == "" {
		return nil
	}
	return s.sessions.Revoke(ctx, current.JTI)
}
