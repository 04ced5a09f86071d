// Package blob хранит загруженные файлы (изображения товаров) на локальном диске.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/agromarket/internal/domain"
)

// LocalStore кладёт объекты в каталог на диске; ссылка строится от baseURL.
type LocalStore struct {
	root    string
	baseURL string
	logger  *log.Entry
}

// NewLocalStore создаёт хранилище, при необходимости создавая каталог.
func NewLocalStore(root, baseURL string, logger *log.Entry) (*LocalStore, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("blob root directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	if logger == nil {
		logger = log.WithField("component", "blob-store")
	}
	return &LocalStore{
		root:    root,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
	}, nil
}

// Root возвращает каталог хранилища (для раздачи файлов по HTTP).
func (s *LocalStore) Root() string {
	return s.root
}

// Put атомарно записывает объект: сначала во временный файл, затем rename.
func (s *LocalStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	target, err := s.resolve(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("create blob dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create temp blob: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close blob: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return "", fmt.Errorf("commit blob: %w", err)
	}

	s.logger.WithFields(log.Fields{
		"key":          key,
		"size":         len(data),
		"content_type": contentType,
	}).Debug("blob stored")

	return s.URL(key), nil
}

// Open открывает объект на чтение.
func (s *LocalStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	target, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(target)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, domain.ErrBlobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open blob: %w", err)
	}
	return f, nil
}

// Delete удаляет объект; отсутствие объекта не ошибка.
func (s *LocalStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete blob: %w", err)
	}
	return nil
}

// URL строит публичную ссылку на объект.
func (s *LocalStore) URL(key string) string {
	key = cleanKey(key)
	if s.baseURL == "" {
		return key
	}
	return s.baseURL + "/" + key
}

// cleanKey приводит ключ к относительному пути без выходов за корень.
func cleanKey(key string) string {
	return strings.TrimPrefix(path.Clean("/"+key), "/")
}

func (s *LocalStore) resolve(key string) (string, error) {
	key = cleanKey(key)
	if key == "" || !filepath.IsLocal(filepath.FromSlash(key)) {
		return "", domain.NewValidationError("key", "must be a relative object path")
	}
	return filepath.Join(s.root, filepath.FromSlash(key)), nil
}

var _ domain.BlobStore = (*LocalStore)(nil)
