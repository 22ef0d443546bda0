// publication_verifier.go implements the PublicationVerifier background job, which
// periodically reconciles pending publications with their destination directories
// and fails publications orphaned in the publishing state.
package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/apk-registry/apk-registry/internal/config"
	"github.com/apk-registry/apk-registry/internal/publishing"
)

// PendingVerifier reconciles pending publications.
type PendingVerifier interface {
	VerifyPending(ctx context.Context, staleAfter time.Duration) (publishing.VerifyResult, error)
}

// PublicationVerifier periodically runs VerifyPending.
type PublicationVerifier struct {
	engine     PendingVerifier
	interval   time.Duration
	staleAfter time.Duration
	stopChan   chan struct{}
	stopOnce   sync.Once
}

// unboundedCopyStaleAfter applies when copies have no timeout.
const unboundedCopyStaleAfter = 6 * time.Hour

// NewPublicationVerifier creates the job from the publication config. A
// publishing record is considered orphaned once it is older than twice the
// copy timeout, or unboundedCopyStaleAfter when copies are not time limited.
func NewPublicationVerifier(engine PendingVerifier, cfg *config.PublicationConfig) *PublicationVerifier {
	staleAfter := 2 * cfg.CopyTimeout
	if staleAfter <= 0 {
		staleAfter = unboundedCopyStaleAfter
	}
	return &PublicationVerifier{
		engine:     engine,
		interval:   cfg.VerifyInterval,
		staleAfter: staleAfter,
		stopChan:   make(chan struct{}),
	}
}

// Start runs a pass immediately and then once per interval until ctx is
// cancelled or Stop is called. A non-positive interval disables the job.
func (v *PublicationVerifier) Start(ctx context.Context) {
	if v.interval <= 0 {
		slog.Info("publication verifier disabled", "reason", "publication.verify_interval is 0")
		return
	}

	ticker := time.NewTicker(v.interval)
	defer ticker.Stop()

	slog.Info("publication verifier started", "interval", v.interval, "stale_after", v.staleAfter)

	v.runOnce(ctx)

	for {
		select {
		case <-ticker.C:
			v.runOnce(ctx)
		case <-v.stopChan:
			slog.Info("publication verifier stopped")
			return
		case <-ctx.Done():
			slog.Info("publication verifier context cancelled")
			return
		}
	}
}

// Stop signals the loop to exit. Safe to call more than once.
func (v *PublicationVerifier) Stop() {
	v.stopOnce.Do(func() { close(v.stopChan) })
}

func (v *PublicationVerifier) runOnce(ctx context.Context) {
	res, err := v.engine.VerifyPending(ctx, v.staleAfter)
	if err != nil {
		slog.Error("publication verification failed", "error", err)
		return
	}
	if res.Checked > 0 {
		slog.Info("publication verification finished",
			"checked", res.Checked, "completed", res.Completed, "failed", res.Failed)
	}
}
