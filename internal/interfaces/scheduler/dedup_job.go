package scheduler

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"sterling/internal/domain/dedup"
)

// DedupRunner is the slice of the dedup engine the job needs.
type DedupRunner interface {
	Run(ctx context.Context, opts dedup.RunOptions) (*dedup.RunStats, error)
}

// DedupJob runs the matching pipeline across all sources. When a run
// succeeds and a ping URL is configured, the job notifies an external
// healthcheck service.
type DedupJob struct {
	runner      DedupRunner
	institution string
	pingURL     string
	log         zerolog.Logger
}

func NewDedupJob(runner DedupRunner, institution, pingURL string, log zerolog.Logger) *DedupJob {
	return &DedupJob{
		runner:      runner,
		institution: institution,
		pingURL:     pingURL,
		log:         log,
	}
}

func (j *DedupJob) Execute(ctx context.Context) error {
	stats, err := j.runner.Run(ctx, dedup.RunOptions{Institution: j.institution})
	if err != nil {
		return fmt.Errorf("dedup run failed: %w", err)
	}

	j.log.Info().
		Int("source_superseded", stats.SourceSuperseded).
		Int("declined", stats.Declined).
		Int("internal_duplicate_groups", stats.InternalDuplicateGroups).
		Int("cross_source_groups", stats.CrossSourceGroups).
		Int("cross_source_extended", stats.CrossSourceExtended).
		Msg("scheduled dedup run complete")

	j.ping(ctx)
	return nil
}

// ping notifies the healthcheck URL. Ping failures are logged, never
// returned; a monitoring outage must not fail the job.
func (j *DedupJob) ping(ctx context.Context) {
	if j.pingURL == "" {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, j.pingURL, nil)
	if err != nil {
		j.log.Warn().Err(err).Msg("failed to build healthcheck ping")
		return
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		j.log.Warn().Err(err).Msg("healthcheck ping failed")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		j.log.Warn().Int("status", resp.StatusCode).Msg("healthcheck ping rejected")
	}
}

func (j *DedupJob) Name() string { return "dedup" }

func (j *DedupJob) Description() string { return "transaction dedup sweep" }
