package provider

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/pkg/errors"
)

// LocalProvider is the Provider implementation backed by a directory on
// the local filesystem. POSIX-style keys are mapped directly onto paths
// relative to root.
type LocalProvider struct {
	root     string
	readonly atomic.Bool
}

// NewLocal returns a LocalProvider rooted at dir, creating it if it does
// not already exist.
func NewLocal(dir string) (*LocalProvider, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "provider: creating root directory %q", dir)
	}
	return &LocalProvider{root: dir}, nil
}

func (l *LocalProvider) path(key string) string {
	return filepath.Join(l.root, filepath.FromSlash(key))
}

func (l *LocalProvider) Get(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(l.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &NotFoundError{Key: key}
		}
		return nil, errors.Wrapf(err, "provider: reading key %q", key)
	}
	return data, nil
}

func (l *LocalProvider) Set(_ context.Context, key string, data []byte) error {
	if err := l.CheckReadonly(); err != nil {
		return err
	}
	p := l.path(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return errors.Wrapf(err, "provider: creating parent directory for %q", key)
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrapf(err, "provider: writing key %q", key)
	}
	if err := os.Rename(tmp, p); err != nil {
		return errors.Wrapf(err, "provider: committing key %q", key)
	}
	return nil
}

func (l *LocalProvider) Delete(_ context.Context, key string) error {
	if err := l.CheckReadonly(); err != nil {
		return err
	}
	if err := os.Remove(l.path(key)); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "provider: deleting key %q", key)
	}
	return nil
}

func (l *LocalProvider) Contains(_ context.Context, key string) (bool, error) {
	_, err := os.Stat(l.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errors.Wrapf(err, "provider: stat-ing key %q", key)
	}
	return true, nil
}

func (l *LocalProvider) IterKeys(_ context.Context, prefix string, fn func(key string) error) error {
	err := filepath.WalkDir(l.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasSuffix(path, ".tmp") {
			return nil
		}
		rel, err := filepath.Rel(l.root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		return fn(key)
	})
	if err != nil {
		return errors.Wrap(err, "provider: iterating keys")
	}
	return nil
}

func (l *LocalProvider) Clear(ctx context.Context, prefix string) error {
	if err := l.CheckReadonly(); err != nil {
		return err
	}
	var keys []string
	if err := l.IterKeys(ctx, prefix, func(key string) error {
		keys = append(keys, key)
		return nil
	}); err != nil {
		return err
	}
	for _, key := range keys {
		if err := l.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

func (l *LocalProvider) CheckReadonly() error {
	if l.readonly.Load() {
		return &ReadonlyError{}
	}
	return nil
}

// SetReadonly toggles this provider's read-only mode.
func (l *LocalProvider) SetReadonly(readonly bool) {
	l.readonly.Store(readonly)
}

var _ Provider = (*LocalProvider)(nil)
