package appointment

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/chatbridge/pkg/domains/reply"
	"github.com/chatbridge/pkg/entities"
	"github.com/chatbridge/pkg/errs"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	created []entities.Appointment
}

func (f *fakeRepo) Create(_ context.Context, appt *entities.Appointment) error {
	f.created = append(f.created, *appt)
	return nil
}

func (f *fakeRepo) ListByConversation(context.Context, string) ([]entities.Appointment, error) {
	return f.created, nil
}

func TestSchedule(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	repo := &fakeRepo{}
	svc := NewService(repo, zerolog.Nop())
	svc.now = func() time.Time { return now }

	err := svc.Schedule(context.Background(), reply.ScheduleRequest{
		TenantID: "t1", ConversationID: "C1", At: now.Add(24 * time.Hour), Summary: "  " + strings.Repeat("x", 300),
	})
	require.NoError(t, err)
	require.Len(t, repo.created, 1)
	assert.Equal(t, "C1", repo.created[0].ConversationID)
	assert.Len(t, repo.created[0].Summary, maxSummary)
	assert.NotEmpty(t, repo.created[0].ID)

	err = svc.Schedule(context.Background(), reply.ScheduleRequest{TenantID: "t1", ConversationID: "C1", At: now.Add(-time.Hour)})
	assert.ErrorIs(t, err, errs.ErrValidation)
	assert.Len(t, repo.created, 1)
}
