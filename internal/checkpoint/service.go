package checkpoint

import (
	"context"
	"strings"
)

// Service exposes checkpoint resolution.
type Service struct {
	resolver *Resolver
}

// NewService constructs a Service.
func NewService(resolver *Resolver) *Service {
	return &Service{resolver: resolver}
}

// Resolve returns where userID should resume. Store failures never surface here.
func (s *Service) Resolve(ctx context.Context, userID string) (Checkpoint, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Checkpoint{}, ErrInvalidInput
	}
	return s.resolver.Resolve(ctx, userID), nil
}
