package appointment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chatbridge/pkg/domains/reply"
	"github.com/chatbridge/pkg/entities"
	"github.com/chatbridge/pkg/errs"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const maxSummary = 255

// Service books appointments requested by a reply's schedule directive.
type Service struct {
	repo Repository
	log  zerolog.Logger
	now  func() time.Time
}

func NewService(repo Repository, log zerolog.Logger) *Service {
	return &Service{
		repo: repo,
		log:  log.With().Str("component", "appointment").Logger(),
		now:  time.Now,
	}
}

// Schedule rejects slots in the past and stores the rest.
func (s *Service) Schedule(ctx context.Context, req reply.ScheduleRequest) error {
	if req.At.Before(s.now()) {
		return fmt.Errorf("appointment at %s is in the past: %w", req.At.Format(time.RFC3339), errs.ErrValidation)
	}
	summary := strings.TrimSpace(req.Summary)
	if r := []rune(summary); len(r) > maxSummary {
		summary = string(r[:maxSummary])
	}
	appt := &entities.Appointment{
		ID:             uuid.NewString(),
		TenantID:       req.TenantID,
		ConversationID: req.ConversationID,
		ScheduledFor:   req.At,
		Summary:        summary,
	}
	if err := s.repo.Create(ctx, appt); err != nil {
		return err
	}
	s.log.Info().Str("tenant_id", req.TenantID).Str("conversation_id", req.ConversationID).Time("at", req.At).Msg("appointment booked")
	return nil
}

var _ reply.SideEffectHandler = (*Service)(nil)
