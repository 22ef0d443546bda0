package publishing

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/apk-registry/apk-registry/internal/apperrors"
	"github.com/apk-registry/apk-registry/internal/auth"
	"github.com/apk-registry/apk-registry/internal/config"
	"github.com/apk-registry/apk-registry/internal/db/models"
	"github.com/apk-registry/apk-registry/internal/storage"
	"github.com/apk-registry/apk-registry/internal/telemetry"
)

// PublicationStore persists publication records. Transition must only apply
// while the record is still in `from`, returning nil, nil otherwise.
type PublicationStore interface {
	Create(ctx context.Context, pub *models.Publication) error
	Transition(ctx context.Context, id string, from, to models.PublicationStatus, targetPath, errorMessage *string) (*models.Publication, error)
	GetByID(ctx context.Context, id string) (*models.Publication, error)
	List(ctx context.Context, limit, offset int) ([]*models.PublicationWithPackage, error)
	ListByPackage(ctx context.Context, packageID string) ([]*models.PublicationWithPackage, error)
	ListByStatus(ctx context.Context, status models.PublicationStatus) ([]*models.Publication, error)
}

// PackageLookup loads catalog entries. Missing packages yield apperrors.ErrNotFound.
type PackageLookup interface {
	Get(ctx context.Context, id string) (*models.Package, error)
}

// ArtifactSource opens a package's source path.
type ArtifactSource interface {
	Open(ctx context.Context, location string) (io.ReadCloser, error)
}

// Resolver maps an environment to its destination directory.
type Resolver interface {
	Resolve(ctx context.Context, env models.Environment) string
}

// copyStartGrace is how long a copy-strategy record may sit in pending before
// the copy starts.
const copyStartGrace = time.Minute

// Engine drives publication records through pending -> publishing -> completed|failed.
type Engine struct {
	publications PublicationStore
	packages     PackageLookup
	artifacts    ArtifactSource
	resolver     Resolver

	strategies     map[models.Environment]string
	copyTimeout    time.Duration
	pendingTimeout time.Duration

	now func() time.Time
}

// NewEngine creates a publication engine configured from cfg.
func NewEngine(publications PublicationStore, packages PackageLookup, artifacts ArtifactSource, resolver Resolver, cfg *config.PublicationConfig) *Engine {
	strategies := make(map[models.Environment]string, len(models.Environments))
	for name, env := range cfg.Environments() {
		strategies[models.Environment(name)] = env.Strategy
	}
	return &Engine{
		publications:   publications,
		packages:       packages,
		artifacts:      artifacts,
		resolver:       resolver,
		strategies:     strategies,
		copyTimeout:    cfg.CopyTimeout,
		pendingTimeout: cfg.PendingTimeout,
		now:            time.Now,
	}
}

// Strategy returns the publication strategy configured for env.
func (e *Engine) Strategy(env models.Environment) string {
	if s := e.strategies[env]; s != "" {
		return s
	}
	return config.StrategyCopy
}

// targetPath is where the package's artifact lands in env.
func (e *Engine) targetPath(ctx context.Context, env models.Environment, pkg *models.Package) (dir, target string) {
	dir = e.resolver.Resolve(ctx, env)
	return dir, filepath.Join(dir, storage.BaseName(pkg.SourcePath))
}

// Create records a publication of packageID to environment.
//
// Under the copy strategy the artifact is copied before Create returns and the
// record is terminal; a failed copy is stored on the record, not returned.
// Under the external strategy the record stays pending until CheckStatus sees
// the artifact at its destination.
func (e *Engine) Create(ctx context.Context, caller *auth.Identity, packageID, environment string) (*models.Publication, error) {
	env, err := models.ParseEnvironment(environment)
	if err != nil {
		return nil, apperrors.Validation("%v", err)
	}
	if err := auth.Authorize(caller, auth.PublishAction(env)); err != nil {
		return nil, err
	}

	pkg, err := e.packages.Get(ctx, packageID)
	if err != nil {
		return nil, err
	}

	pub := &models.Publication{
		PackageID:   pkg.ID,
		Environment: env,
		RequestedBy: caller.UserID,
	}
	if err := e.publications.Create(ctx, pub); err != nil {
		return nil, err
	}
	telemetry.PublicationsTotal.WithLabelValues(string(env), string(models.PublicationPending)).Inc()

	if e.Strategy(env) == config.StrategyExternal {
		slog.Info("publication awaiting external sync", "publication_id", pub.ID, "environment", env, "package_id", pkg.ID)
		return pub, nil
	}

	// finalization must happen even if the caller goes away mid-copy
	return e.publish(context.WithoutCancel(ctx), pub, pkg)
}

func (e *Engine) publish(ctx context.Context, pub *models.Publication, pkg *models.Package) (*models.Publication, error) {
	dir, target := e.targetPath(ctx, pub.Environment, pkg)

	publishing, err := e.publications.Transition(ctx, pub.ID, models.PublicationPending, models.PublicationPublishing, nil, nil)
	if err != nil {
		e.abandon(ctx, pub.ID, models.PublicationPending, err)
		return nil, err
	}
	if publishing == nil {
		// another actor already moved the record on
		return e.publications.GetByID(ctx, pub.ID)
	}

	copyCtx := ctx
	if e.copyTimeout > 0 {
		var cancel context.CancelFunc
		copyCtx, cancel = context.WithTimeout(ctx, e.copyTimeout)
		defer cancel()
	}

	start := time.Now()
	copyErr := e.copyArtifact(copyCtx, pkg.SourcePath, dir, target)
	telemetry.PublicationCopyDuration.WithLabelValues(string(pub.Environment)).Observe(time.Since(start).Seconds())

	var final *models.Publication
	if copyErr != nil {
		msg := copyErr.Error()
		slog.Warn("publication failed", "publication_id", pub.ID, "environment", pub.Environment,
			"source_path", pkg.SourcePath, "target_path", target, "error", copyErr)
		final, err = e.publications.Transition(ctx, pub.ID, models.PublicationPublishing, models.PublicationFailed, &target, &msg)
	} else {
		slog.Info("publication completed", "publication_id", pub.ID, "environment", pub.Environment, "target_path", target)
		final, err = e.publications.Transition(ctx, pub.ID, models.PublicationPublishing, models.PublicationCompleted, &target, nil)
	}
	if err != nil {
		if copyErr == nil {
			e.abandon(ctx, pub.ID, models.PublicationPublishing, err)
		}
		return nil, fmt.Errorf("failed to finalize publication %s: %w", pub.ID, err)
	}
	if final == nil {
		return e.publications.GetByID(ctx, pub.ID)
	}
	telemetry.PublicationsTotal.WithLabelValues(string(final.Environment), string(final.Status)).Inc()
	return final, nil
}

// abandon makes a best-effort move of a copy-strategy record from `from` to
// failed after a ledger write went wrong, so it never rests in a non-terminal
// state that the external-strategy checks would later complete.
func (e *Engine) abandon(ctx context.Context, id string, from models.PublicationStatus, cause error) {
	msg := fmt.Sprintf("publication aborted: %v", cause)
	failed, err := e.publications.Transition(context.WithoutCancel(ctx), id, from, models.PublicationFailed, nil, &msg)
	if err != nil {
		slog.Error("failed to mark publication failed", "publication_id", id, "from", from, "error", err, "cause", cause)
		return
	}
	if failed != nil {
		telemetry.PublicationsTotal.WithLabelValues(string(failed.Environment), string(failed.Status)).Inc()
	}
}

// copyArtifact writes source into dir under a temporary name and renames it
// onto target, so readers never see a partial file. Concurrent publications
// to the same target race and the last rename wins.
func (e *Engine) copyArtifact(ctx context.Context, source, dir, target string) error {
	src, err := e.artifacts.Open(ctx, source)
	if err != nil {
		return apperrors.IO("open source artifact", err)
	}
	defer src.Close()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apperrors.IO("create destination directory", err)
	}

	tmp, err := os.CreateTemp(dir, ".publish-*")
	if err != nil {
		return apperrors.IO("create destination file", err)
	}
	tmpName := tmp.Name()

	_, err = io.Copy(tmp, &contextReader{ctx: ctx, r: src})
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmpName)
		return apperrors.IO("copy artifact", err)
	}

	if err := os.Chmod(tmpName, 0o644); err != nil {
		_ = os.Remove(tmpName)
		return apperrors.IO("set destination permissions", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		_ = os.Remove(tmpName)
		return apperrors.IO("move artifact into place", err)
	}
	return nil
}

// contextReader stops a copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// Get returns a publication without reconciling it.
func (e *Engine) Get(ctx context.Context, id string) (*models.Publication, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, apperrors.NotFound("publication", id)
	}
	pub, err := e.publications.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if pub == nil {
		return nil, apperrors.NotFound("publication", id)
	}
	return pub, nil
}

// CheckStatus returns the publication, first completing it when it is pending
// under the external strategy and its artifact has appeared at the destination.
// Pending records older than the configured pending timeout are failed instead,
// as are copy-strategy records whose copy never started.
func (e *Engine) CheckStatus(ctx context.Context, id string) (*models.Publication, error) {
	pub, err := e.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if pub.Status != models.PublicationPending {
		return pub, nil
	}
	return e.reconcile(ctx, pub)
}

func (e *Engine) reconcile(ctx context.Context, pub *models.Publication) (*models.Publication, error) {
	pkg, err := e.packages.Get(ctx, pub.PackageID)
	if err != nil {
		return nil, err
	}

	if e.Strategy(pub.Environment) != config.StrategyExternal {
		// a copy-strategy record only stays pending if Create never got to copy it
		if e.now().Sub(pub.RequestedAt) <= copyStartGrace {
			return pub, nil
		}
		msg := "publication was never copied"
		return e.finish(ctx, pub, models.PublicationFailed, nil, &msg)
	}

	_, target := e.targetPath(ctx, pub.Environment, pkg)
	info, statErr := os.Stat(target)
	switch {
	case statErr == nil && info.Mode().IsRegular():
		return e.finish(ctx, pub, models.PublicationCompleted, &target, nil)
	case e.pendingTimeout > 0 && e.now().Sub(pub.RequestedAt) > e.pendingTimeout:
		msg := fmt.Sprintf("artifact did not appear at %s within %s", target, e.pendingTimeout)
		return e.finish(ctx, pub, models.PublicationFailed, nil, &msg)
	default:
		return pub, nil
	}
}

// finish moves pub from its current status to `to`. Losing the race to another
// writer is not an error; the winner's record is returned.
func (e *Engine) finish(ctx context.Context, pub *models.Publication, to models.PublicationStatus, target, msg *string) (*models.Publication, error) {
	updated, err := e.publications.Transition(ctx, pub.ID, pub.Status, to, target, msg)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return e.Get(ctx, pub.ID)
	}
	telemetry.PublicationsTotal.WithLabelValues(string(updated.Environment), string(updated.Status)).Inc()
	slog.Info("publication reconciled", "publication_id", updated.ID, "status", updated.Status, "environment", updated.Environment)
	return updated, nil
}

// VerifyResult counts the outcome of one VerifyPending pass.
type VerifyResult struct {
	Checked   int `json:"checked"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// VerifyPending reconciles every pending publication. Publishing records older
// than staleAfter were orphaned by a crash mid-copy and are failed. A zero
// staleAfter leaves them alone.
func (e *Engine) VerifyPending(ctx context.Context, staleAfter time.Duration) (VerifyResult, error) {
	var result VerifyResult

	pending, err := e.publications.ListByStatus(ctx, models.PublicationPending)
	if err != nil {
		return result, err
	}
	telemetry.PendingPublications.Set(float64(len(pending)))

	for _, pub := range pending {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		result.Checked++
		updated, err := e.reconcile(ctx, pub)
		if err != nil {
			slog.Warn("failed to verify publication", "publication_id", pub.ID, "error", err)
			continue
		}
		countOutcome(&result, updated)
	}

	if staleAfter <= 0 {
		return result, nil
	}

	inFlight, err := e.publications.ListByStatus(ctx, models.PublicationPublishing)
	if err != nil {
		return result, err
	}
	for _, pub := range inFlight {
		if e.now().Sub(pub.RequestedAt) <= staleAfter {
			continue
		}
		result.Checked++
		msg := "publication interrupted before the copy finished"
		updated, err := e.finish(ctx, pub, models.PublicationFailed, nil, &msg)
		if err != nil {
			slog.Warn("failed to fail stale publication", "publication_id", pub.ID, "error", err)
			continue
		}
		countOutcome(&result, updated)
	}

	return result, nil
}

func countOutcome(result *VerifyResult, pub *models.Publication) {
	switch pub.Status {
	case models.PublicationCompleted:
		result.Completed++
	case models.PublicationFailed:
		result.Failed++
	}
}

// List returns recent publications joined with their package.
func (e *Engine) List(ctx context.Context, limit, offset int) ([]*models.PublicationWithPackage, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return e.publications.List(ctx, limit, offset)
}

// ListForPackage returns the publication history of one package.
func (e *Engine) ListForPackage(ctx context.Context, packageID string) ([]*models.PublicationWithPackage, error) {
	if _, err := e.packages.Get(ctx, packageID); err != nil {
		return nil, err
	}
	return e.publications.ListByPackage(ctx, packageID)
}
