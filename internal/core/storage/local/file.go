package local

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"

	"github.com/spf13/afero"

	"github.com/zeusync/cartsync/internal/core/cart"
	"github.com/zeusync/cartsync/internal/core/observability/log"
)

var _ Store = (*FileStore)(nil)

// FileStore keeps one JSON file per user under a directory of an afero.Fs.
// Writes go to a temp file that is renamed over the record, so a crash never
// leaves a half-written cart behind.
type FileStore struct {
	fs     afero.Fs
	dir    string
	logger log.Log
}

func NewFileStore(fsys afero.Fs, dir string, logger log.Log) *FileStore {
	if dir == "" {
		dir = "."
	}
	return &FileStore{
		fs:     fsys,
		dir:    dir,
		logger: log.OrNop(logger).With(log.Component("local_file_store")),
	}
}

// NewOSFileStore roots a FileStore at dir on the real filesystem.
func NewOSFileStore(dir string, logger log.Log) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create cart dir %s: %w", dir, err)
	}
	return NewFileStore(afero.NewBasePathFs(afero.NewOsFs(), dir), "/", logger), nil
}

func (s *FileStore) path(userUID string) string {
	// uids come from the identity provider; keep them out of path traversal.
	return path.Join(s.dir, escapeFileName(Key(userUID))+".json")
}

func (s *FileStore) Save(_ context.Context, userUID string, c cart.Cart) error {
	if userUID == "" {
		return storageError(OpSave, userUID, ErrEmptyUserUID)
	}
	data, err := cart.Marshal(c)
	if err != nil {
		return storageError(OpSave, userUID, err)
	}
	if err = s.fs.MkdirAll(s.dir, 0o700); err != nil {
		return storageError(OpSave, userUID, err)
	}

	target := s.path(userUID)
	tmp := target + ".tmp"
	if err = afero.WriteFile(s.fs, tmp, data, 0o600); err != nil {
		return storageError(OpSave, userUID, err)
	}
	if err = s.fs.Rename(tmp, target); err != nil {
		_ = s.fs.Remove(tmp)
		return storageError(OpSave, userUID, err)
	}

	s.logger.Debug("Cart saved locally", log.UserUID(userUID), log.Int("lines", c.Len()))
	return nil
}

func (s *FileStore) Load(_ context.Context, userUID string) (cart.Cart, error) {
	if userUID == "" {
		return cart.New(), storageError(OpLoad, userUID, ErrEmptyUserUID)
	}
	data, err := afero.ReadFile(s.fs, s.path(userUID))
	if errors.Is(err, fs.ErrNotExist) {
		return cart.New(), nil
	}
	if err != nil {
		return cart.New(), storageError(OpLoad, userUID, err)
	}
	c, err := cart.Unmarshal(data)
	if err != nil {
		return cart.New(), storageError(OpLoad, userUID, fmt.Errorf("%w: %v", ErrCorrupt, err))
	}
	return c, nil
}

func (s *FileStore) Clear(_ context.Context, userUID string) error {
	if userUID == "" {
		return storageError(OpClear, userUID, ErrEmptyUserUID)
	}
	err := s.fs.Remove(s.path(userUID))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return storageError(OpClear, userUID, err)
	}
	s.logger.Debug("Local cart cleared", log.UserUID(userUID))
	return nil
}

func escapeFileName(name string) string {
	out := make([]byte, 0, len(name))
	for i := 0; i < len(name); i++ {
		b := name[i]
		switch {
		case b >= 'a' && b <= 'z', b >= 'A' && b <= 'Z', b >= '0' && b <= '9', b == '_', b == '-':
			out = append(out, b)
		default:
			out = append(out, '%', "0123456789ABCDEF"[b>>4], "0123456789ABCDEF"[b&0xF])
		}
	}
	return string(out)
}
