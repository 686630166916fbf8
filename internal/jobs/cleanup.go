package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/escrowly/chat-relay-go/internal/repository"
)

// CleanupJob retires stale chat state on a fixed interval: open sessions
// with no activity inside the idle window get closed, and transcripts of
// sessions closed longer ago than the retention window get purged.
type CleanupJob struct {
	sessionRepo     repository.SessionRepository
	messageRepo     repository.MessageRepository
	idleWindow      time.Duration
	closedRetention time.Duration
	interval        time.Duration
	done            chan struct{}
}

func NewCleanupJob(
	sessionRepo repository.SessionRepository,
	messageRepo repository.MessageRepository,
	idleWindow time.Duration,
	closedRetention time.Duration,
	interval time.Duration,
) *CleanupJob {
	return &CleanupJob{
		sessionRepo:     sessionRepo,
		messageRepo:     messageRepo,
		idleWindow:      idleWindow,
		closedRetention: closedRetention,
		interval:        interval,
		done:            make(chan struct{}),
	}
}

func (j *CleanupJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Msg("cleanup job started")
}

func (j *CleanupJob) Stop() {
	close(j.done)
	log.Info().Msg("cleanup job stopped")
}

func (j *CleanupJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.cleanup()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.cleanup()
		}
	}
}

func (j *CleanupJob) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	j.runCleanup(ctx, "idle sessions", func(ctx context.Context) (int64, error) {
		return j.sessionRepo.CloseIdleSince(ctx, time.Now().Add(-j.idleWindow))
	})

	// messages first, then their sessions
	retentionCutoff := time.Now().Add(-j.closedRetention)
	j.runCleanup(ctx, "expired transcripts", func(ctx context.Context) (int64, error) {
		return j.messageRepo.DeleteBySessionIDsBefore(ctx, retentionCutoff)
	})
	j.runCleanup(ctx, "expired sessions", func(ctx context.Context) (int64, error) {
		return j.sessionRepo.DeleteClosedBefore(ctx, retentionCutoff)
	})
}

func (j *CleanupJob) runCleanup(ctx context.Context, name string, fn func(context.Context) (int64, error)) {
	count, err := fn(ctx)
	if err != nil {
		log.Error().Err(err).Msgf("failed to cleanup %s", name)
	} else if count > 0 {
		log.Info().Int64("count", count).Msgf("cleaned up %s", name)
	}
}
