package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// LocalStore keeps objects as files under root/bucket.
type LocalStore struct {
	dir    string
	logger *slog.Logger
}

func NewLocalStore(root, bucket string, logger *slog.Logger) (*LocalStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Join(root, bucket)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create bucket dir: %w", err)
	}
	return &LocalStore{dir: dir, logger: logger}, nil
}

func (s *LocalStore) resolve(p string) (string, error) {
	clean := path.Clean("/" + strings.TrimSpace(p))
	if clean == "/" {
		return "", fmt.Errorf("invalid object path %q", p)
	}
	return filepath.Join(s.dir, filepath.FromSlash(strings.TrimPrefix(clean, "/"))), nil
}

func (s *LocalStore) Upload(ctx context.Context, p string, data []byte, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := s.resolve(p)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("create object dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(full), ".upload-*")
	if err != nil {
		return fmt.Errorf("create temp object: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write object: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close object: %w", err)
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		return fmt.Errorf("commit object: %w", err)
	}
	s.logger.Debug("storage.local.upload", "path", p, "bytes", len(data))
	return nil
}

func (s *LocalStore) Download(ctx context.Context, p string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full, err := s.resolve(p)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, p)
	}
	if err != nil {
		return nil, fmt.Errorf("read object: %w", err)
	}
	return b, nil
}

func (s *LocalStore) Delete(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := s.resolve(p)
	if err != nil {
		return err
	}
	err = os.Remove(full)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrObjectNotFound, p)
	}
	return err
}

func (s *LocalStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var out []ObjectInfo
	err := filepath.WalkDir(s.dir, func(full string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".upload-") {
			return nil
		}
		rel, err := filepath.Rel(s.dir, full)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		out = append(out, ObjectInfo{Path: key, Size: info.Size(), UpdatedAt: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list objects: %w", err)
	}
	return out, nil
}
