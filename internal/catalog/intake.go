package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/apk-registry/apk-registry/internal/apperrors"
	"github.com/apk-registry/apk-registry/internal/auth"
	"github.com/apk-registry/apk-registry/internal/db/models"
	"github.com/apk-registry/apk-registry/internal/identity"
	"github.com/apk-registry/apk-registry/internal/storage"
	"github.com/apk-registry/apk-registry/internal/telemetry"
)

var errTooLarge = errors.New("upload exceeds size limit")

// Intake accepts single uploaded files into the staging backend and the catalog.
type Intake struct {
	catalog *Service
	staging storage.Storage
	maxSize int64
}

// NewIntake creates an upload intake. maxSize is the upload limit in bytes.
func NewIntake(catalog *Service, staging storage.Storage, maxSize int64) *Intake {
	return &Intake{catalog: catalog, staging: staging, maxSize: maxSize}
}

// SanitizeFileName reduces a client-supplied name to its final path element.
func SanitizeFileName(name string) (string, error) {
	base := path.Base(strings.ReplaceAll(strings.TrimSpace(name), `\`, "/"))
	if base == "." || base == "/" || base == ".." || strings.ContainsAny(base, "\x00") {
		return "", apperrors.Validation("invalid file name %q", name)
	}
	return base, nil
}

// Accept validates, stages and catalogs one upload with the replace policy.
// inserted is false when an existing version was replaced.
//
// Every upload is staged under its own key, so a failed upload never touches
// the object an existing catalog row points at. When cataloging fails the new
// object is deleted; when a replace succeeds the superseded staged object is.
func (in *Intake) Accept(ctx context.Context, caller *auth.Identity, fileName string, r io.Reader, declaredSize int64) (pkg *models.Package, inserted bool, err error) {
	defer func() {
		telemetry.UploadsTotal.WithLabelValues(uploadResult(inserted, err)).Inc()
	}()

	name, err := SanitizeFileName(fileName)
	if err != nil {
		return nil, false, err
	}
	if !identity.HasAPKExtension(name) {
		return nil, false, apperrors.Validation("only .apk files are accepted, got %q", name)
	}
	if declaredSize > in.maxSize {
		return nil, false, apperrors.Validation("file size %d exceeds the %d byte limit", declaredSize, in.maxSize)
	}
	if err := auth.Authorize(caller, auth.ActionUpload); err != nil {
		return nil, false, err
	}

	key := StagingKey(name)
	res, err := in.staging.Upload(ctx, key, &limitReader{r: r, remaining: in.maxSize}, declaredSize)
	if err != nil {
		if errors.Is(err, errTooLarge) {
			return nil, false, apperrors.Validation("file exceeds the %d byte limit", in.maxSize)
		}
		return nil, false, apperrors.IO("stage upload", err)
	}

	id := identity.Parse(name)
	previous := in.currentLocation(ctx, id)

	pkg = NewPackage(id, in.staging.Location(key), res.Size)
	inserted, err = in.catalog.Reconcile(ctx, pkg, models.ConflictReplace)
	if err != nil {
		in.discard(ctx, key)
		return nil, false, fmt.Errorf("failed to catalog upload: %w", err)
	}
	if !inserted && previous != "" && previous != pkg.SourcePath {
		if oldKey, ok := in.staging.Key(previous); ok {
			in.discard(ctx, oldKey)
		}
	}

	telemetry.UploadBytesTotal.Add(float64(res.Size))
	slog.Info("upload accepted", "package_key", pkg.PackageKey, "version", pkg.Version,
		"version_code", pkg.VersionCode, "inserted", inserted, "user_id", caller.UserID)

	return pkg, inserted, nil
}

// StagingKey returns a fresh staging key for an uploaded file. The file keeps
// its name as the last path element.
func StagingKey(name string) string {
	return path.Join(uuid.NewString(), name)
}

// currentLocation is the source path of the cataloged row id would replace,
// or "" when there is none.
func (in *Intake) currentLocation(ctx context.Context, id identity.Identity) string {
	pkgs, err := in.catalog.store.ListByKey(ctx, id.PackageKey)
	if err != nil {
		slog.Warn("failed to look up existing package before upload", "package_key", id.PackageKey, "error", err)
		return ""
	}
	for _, p := range pkgs {
		if p.VersionCode == id.VersionCode {
			return p.SourcePath
		}
	}
	return ""
}

func (in *Intake) discard(ctx context.Context, key string) {
	if err := in.staging.Delete(context.WithoutCancel(ctx), key); err != nil {
		slog.Error("failed to remove staged upload", "key", key, "error", err)
	}
}

func uploadResult(inserted bool, err error) string {
	switch {
	case errors.Is(err, apperrors.ErrValidation), errors.Is(err, apperrors.ErrForbidden):
		return "rejected"
	case err != nil:
		return "failed"
	case inserted:
		return "inserted"
	default:
		return "replaced"
	}
}

// limitReader fails with errTooLarge once more than remaining bytes are read.
type limitReader struct {
	r         io.Reader
	remaining int64
}

func (l *limitReader) Read(p []byte) (int, error) {
	if l.remaining < 0 {
		return 0, errTooLarge
	}
	if int64(len(p)) > l.remaining+1 {
		p = p[:l.remaining+1]
	}
	n, err := l.r.Read(p)
	l.remaining -= int64(n)
	if l.remaining < 0 {
		return n, errTooLarge
	}
	return n, err
}
