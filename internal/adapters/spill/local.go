package spill

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"gitlab.com/timkado/api/doc-translate-service/internal/domain"
)

// LocalStore spills uploads into a directory shared by API and worker.
type LocalStore struct {
	dir    string
	logger domain.Logger
}

// NewLocalStore creates dir if needed.
func NewLocalStore(dir string, logger domain.Logger) (*LocalStore, error) {
	dir = filepath.Join(dir, "doc-translate-spill")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create spill dir %s: %w", dir, err)
	}
	return &LocalStore{dir: dir, logger: logger}, nil
}

func (s *LocalStore) path(ref string) (string, error) {
	// refs are generated here; anything with a separator did not come from Put
	if ref == "" || strings.ContainsAny(ref, `/\`) || ref == "." || ref == ".." {
		return "", domain.NewValidationError("spill ref", fmt.Errorf("invalid ref %q", ref))
	}
	return filepath.Join(s.dir, ref), nil
}

func (s *LocalStore) Put(ctx context.Context, name, contentType string, r io.Reader) (string, error) {
	ref := uuid.NewString() + filepath.Ext(filepath.Base(name))
	p, err := s.path(ref)
	if err != nil {
		return "", err
	}
	f, err := os.OpenFile(p, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return "", fmt.Errorf("create spill file: %w", err)
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(p)
		return "", fmt.Errorf("write spill file: %w", err)
	}
	s.logger.Debug(ctx, "Upload spilled to disk", "ref", ref, "bytes", n)
	return ref, nil
}

func (s *LocalStore) Open(ctx context.Context, ref string) (*domain.SpilledFile, error) {
	p, err := s.path(ref)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open spill file: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat spill file: %w", err)
	}
	return &domain.SpilledFile{Ref: ref, Size: st.Size(), Body: f}, nil
}

func (s *LocalStore) Remove(ctx context.Context, ref string) error {
	p, err := s.path(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove spill file: %w", err)
	}
	return nil
}
