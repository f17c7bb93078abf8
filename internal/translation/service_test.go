package translation

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/alliance-chat/internal/translation/domain"
	"github.com/cuongbtq/alliance-chat/internal/translation/queue"
	"github.com/cuongbtq/alliance-chat/internal/translation/storage"
	"github.com/cuongbtq/alliance-chat/shared/database"
	"github.com/cuongbtq/alliance-chat/shared/logger"
)

type recordingQueue struct {
	items []queue.Item
	seen  map[domain.Identity]bool
}

func (r *recordingQueue) Enqueue(item queue.Item) bool {
	if r.seen == nil {
		r.seen = map[domain.Identity]bool{}
	}
	key := item.Identity()
	if r.seen[key] {
		return false
	}
	r.seen[key] = true
	r.items = append(r.items, item)
	return true
}

func newService(t *testing.T) (*Service, *storage.Storage, *recordingQueue) {
	t.Helper()
	client, err := database.NewClient(&database.Config{Driver: database.DriverSQLite, Path: ":memory:"}, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	require.NoError(t, client.Migrate(context.Background()))

	store := storage.NewStorage(client.GetDB(), logger.Nop())
	q := &recordingQueue{}
	c := clock.NewMock()
	c.Set(time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC))
	return NewService(logger.Nop(), store, q, c), store, q
}

func TestService_RequestTranslation(t *testing.T) {
	svc, _, q := newService(t)
	ctx := context.Background()

	req := Request{UserID: "u1", MessageID: "m1", RoomCode: "R1", Content: "Hello", TargetLanguage: " FR "}
	job, created, err := svc.RequestTranslation(ctx, req)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "fr", job.TargetLanguage)
	assert.Equal(t, domain.JobStatusPending, job.Status)
	require.Len(t, q.items, 1)
	assert.Equal(t, job.JobID, q.items[0].JobID)
	assert.Equal(t, "Hello", q.items[0].Content)
	assert.Equal(t, job.CreatedAt.UnixNano(), q.items[0].Priority)

	again, created, err := svc.RequestTranslation(ctx, req)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, job.JobID, again.JobID)
	assert.Len(t, q.items, 1)
}

func TestService_RequestTranslation_TerminalJobNotRequeued(t *testing.T) {
	svc, store, q := newService(t)
	ctx := context.Background()

	req := Request{UserID: "u1", MessageID: "m1", RoomCode: "R1", Content: "Hello", TargetLanguage: "fr"}
	job, _, err := svc.RequestTranslation(ctx, req)
	require.NoError(t, err)
	require.NoError(t, store.MarkProcessing(ctx, job.JobID, job.CreatedAt))
	require.NoError(t, store.MarkCompleted(ctx, job.JobID, "Bonjour", job.CreatedAt))

	q.seen = nil
	q.items = nil
	got, created, err := svc.RequestTranslation(ctx, req)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, domain.JobStatusCompleted, got.Status)
	assert.Empty(t, q.items)
}

func TestService_RequestTranslation_Validation(t *testing.T) {
	tests := []struct {
		name string
		req  Request
	}{
		{name: "empty language", req: Request{UserID: "u", MessageID: "m", Content: "hi"}},
		{name: "garbage language", req: Request{UserID: "u", MessageID: "m", Content: "hi", TargetLanguage: "french!"}},
		{name: "empty content", req: Request{UserID: "u", MessageID: "m", Content: "  ", TargetLanguage: "fr"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, q := newService(t)
			_, _, err := svc.RequestTranslation(context.Background(), tt.req)
			assert.Error(t, err)
			assert.Empty(t, q.items)
		})
	}

	svc, _, _ := newService(t)
	_, _, err := svc.RequestTranslation(context.Background(), Request{UserID: "u", MessageID: "m", Content: "hi", TargetLanguage: "pt-BR"})
	assert.NoError(t, err)
}

func TestService_GetJob_OwnerOnly(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	job, _, err := svc.RequestTranslation(ctx, Request{UserID: "u1", MessageID: "m1", Content: "Hello", TargetLanguage: "fr"})
	require.NoError(t, err)

	got, err := svc.GetJob(ctx, "u1", job.JobID)
	require.NoError(t, err)
	assert.Equal(t, job.JobID, got.JobID)

	_, err = svc.GetJob(ctx, "u2", job.JobID)
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}
