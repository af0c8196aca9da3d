package audit

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/goccy/go-json"

	"github.com/offiromer/agentspilot-marketing-sub000/internal/db/models"
	"github.com/offiromer/agentspilot-marketing-sub000/internal/storage"
	"github.com/offiromer/agentspilot-marketing-sub000/pkg/checksum"
)

// ErrArchiveDisabled is returned when no archive backend is configured.
var ErrArchiveDisabled = errors.New("audit archive is not configured")

// Sealer encrypts archived exports. *crypto.BundleCipher satisfies it.
type Sealer interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(sealed []byte) ([]byte, error)
}

// ArchiveConfig configures an Archive.
type ArchiveConfig struct {
	// Prefix is prepended to every object key. Defaults to "audit".
	Prefix string
	// URLTTL is the lifetime of download URLs for exports. Defaults to 15 minutes.
	URLTTL time.Duration
	// Compress gzips retention archives.
	Compress bool
	// Sealer, when set, encrypts GDPR exports at rest.
	Sealer Sealer
}

// ArchiveObject describes a stored archive.
type ArchiveObject struct {
	Path     string `json:"path"`
	Size     int64  `json:"size"`
	Checksum string `json:"checksum"`
	URL      string `json:"url,omitempty"`
}

// Archive writes GDPR exports and expired entries to object storage.
type Archive struct {
	backend storage.Storage
	cfg     ArchiveConfig
}

// NewArchive wraps a storage backend.
func NewArchive(backend storage.Storage, cfg ArchiveConfig) *Archive {
	if cfg.Prefix == "" {
		cfg.Prefix = "audit"
	}
	if cfg.URLTTL <= 0 {
		cfg.URLTTL = 15 * time.Minute
	}
	return &Archive{backend: backend, cfg: cfg}
}

func (a *Archive) exportPath(userID string, at time.Time) string {
	name := fmt.Sprintf("%s-%s.json", userID, at.UTC().Format("20060102T150405Z"))
	if a.cfg.Sealer != nil {
		name += ".enc"
	}
	return path.Join(a.cfg.Prefix, "exports", name)
}

// PutExport stores the export as JSON, sealed when a Sealer is configured, and returns
// a time-limited download URL. A backend that cannot sign URLs leaves URL empty.
func (a *Archive) PutExport(ctx context.Context, export *GDPRExport) (*ArchiveObject, error) {
	data, err := json.Marshal(export)
	if err != nil {
		return nil, fmt.Errorf("marshal export: %w", err)
	}
	if a.cfg.Sealer != nil {
		if data, err = a.cfg.Sealer.Seal(data); err != nil {
			return nil, fmt.Errorf("seal export: %w", err)
		}
	}

	obj, err := a.put(ctx, a.exportPath(export.UserID, export.ExportedAt), data)
	if err != nil {
		return nil, err
	}
	if u, err := a.backend.GetURL(ctx, obj.Path, a.cfg.URLTTL); err == nil {
		obj.URL = u
	}
	return obj, nil
}

// ReadExport loads an export written by PutExport.
func (a *Archive) ReadExport(ctx context.Context, p string) (*GDPRExport, error) {
	rc, err := a.backend.Download(ctx, p)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, p)
		}
		return nil, fmt.Errorf("download export: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read export: %w", err)
	}
	if path.Ext(p) == ".enc" {
		if a.cfg.Sealer == nil {
			return nil, fmt.Errorf("export %s is sealed and no cipher is configured", p)
		}
		if data, err = a.cfg.Sealer.Open(data); err != nil {
			return nil, fmt.Errorf("open export: %w", err)
		}
	}

	var export GDPRExport
	if err := json.Unmarshal(data, &export); err != nil {
		return nil, fmt.Errorf("decode export: %w", err)
	}
	return &export, nil
}

// PutExpired writes entries as JSON lines under <prefix>/retention/YYYY/MM/DD/.
func (a *Archive) PutExpired(ctx context.Context, entries []*models.AuditLog, at time.Time) (*ArchiveObject, error) {
	var buf bytes.Buffer
	var w io.Writer = &buf
	var zw *gzip.Writer
	if a.cfg.Compress {
		zw = gzip.NewWriter(&buf)
		w = zw
	}

	enc := json.NewEncoder(w)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return nil, fmt.Errorf("encode archived entry %s: %w", e.ID, err)
		}
	}

	at = at.UTC()
	name := fmt.Sprintf("%s.jsonl", at.Format("20060102T150405.000000000Z"))
	if zw != nil {
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("compress archive: %w", err)
		}
		name += ".gz"
	}
	return a.put(ctx, path.Join(a.cfg.Prefix, "retention", at.Format("2006/01/02"), name), buf.Bytes())
}

func (a *Archive) put(ctx context.Context, p string, data []byte) (*ArchiveObject, error) {
	res, err := a.backend.Upload(ctx, p, bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", p, err)
	}
	sum := res.Checksum
	if sum == "" {
		sum = checksum.SumBytes(data)
	}
	return &ArchiveObject{Path: res.Path, Size: res.Size, Checksum: sum}, nil
}

// ArchiveUserData exports userID's trail to the archive and records DATA_EXPORTED.
func (s *Service) ArchiveUserData(ctx context.Context, userID string) (*ArchiveObject, error) {
	if s.archive == nil {
		return nil, ErrArchiveDisabled
	}
	export, err := s.ExportUserData(ctx, userID)
	if err != nil {
		return nil, err
	}
	obj, err := s.archive.PutExport(ctx, export)
	if err != nil {
		s.report("archive", err, "user_id", userID)
		return nil, fmt.Errorf("archive export for %s: %w", userID, err)
	}

	s.Log(ctx, Input{
		Action:     string(EventDataExported),
		EntityType: models.EntityUser,
		EntityID:   userID,
		Details: map[string]any{
			"entries": export.Summary.TotalEntries,
			"path":    obj.Path,
			"sealed":  s.archive.cfg.Sealer != nil,
		},
	})
	return obj, nil
}

// ReadArchivedExport loads an export previously written by ArchiveUserData.
func (s *Service) ReadArchivedExport(ctx context.Context, p string) (*GDPRExport, error) {
	if s.archive == nil {
		return nil, ErrArchiveDisabled
	}
	return s.archive.ReadExport(ctx, p)
}
