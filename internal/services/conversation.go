package services

import (
	"context"
	"fmt"

	"github.com/gospodapp/backend/internal/models"
)

// ConversationRepo is the turn storage for the context window. Reads
// come back newest-first for an efficient "last N".
type ConversationRepo interface {
	Append(ctx context.Context, deviceHash, text string, isUserTurn bool) error
	RecentDesc(ctx context.Context, deviceHash string, limit int) ([]*models.ChatTurn, error)
}

// ConversationService maintains the per-device context window fed to
// the completion call.
type ConversationService struct {
	repo ConversationRepo
}

func NewConversationService(repo ConversationRepo) *ConversationService {
	return &ConversationService{repo: repo}
}

func (s *ConversationService) Append(ctx context.Context, deviceHash, text string, isUserTurn bool) error {
	return s.repo.Append(ctx, deviceHash, text, isUserTurn)
}

// Recent returns up to limit turns in strict chronological order. The
// store keeps them newest-first, so the read path reverses before the
// messages reach the completion service.
func (s *ConversationService) Recent(ctx context.Context, deviceHash string, limit int) ([]models.Message, error) {
	turns, err := s.repo.RecentDesc(ctx, deviceHash, limit)
	if err != nil {
		return nil, fmt.Errorf("recent turns: %w", err)
	}
	msgs := make([]models.Message, len(turns))
	for i, t := range turns {
		msgs[len(turns)-1-i] = models.Message{Role: t.Role(), Content: t.MessageText}
	}
	return msgs, nil
}
