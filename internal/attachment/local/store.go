package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/smallbiznis/feedbackhub/internal/attachment/domain"
)

const backendName = "local"

// URLPrefix is the path the HTTP server serves the local root under.
const URLPrefix = "/uploads"

type Config struct {
	Root          string
	Container     string
	PublicBaseURL string
}

// Store writes attachments below Root/Container.
type Store struct {
	dir     string
	baseURL string
	log     *zap.Logger
}

func New(cfg Config, log *zap.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.Root) == "" {
		return nil, errors.New("local attachment root is required")
	}
	if strings.TrimSpace(cfg.Container) == "" || strings.ContainsAny(cfg.Container, `/\`) {
		return nil, fmt.Errorf("invalid attachment container %q", cfg.Container)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		dir:     filepath.Join(cfg.Root, cfg.Container),
		baseURL: strings.TrimRight(cfg.PublicBaseURL, "/") + URLPrefix + "/" + url.PathEscape(cfg.Container) + "/",
		log:     log.Named("attachment.local"),
	}, nil
}

func (s *Store) Backend() string { return backendName }

func (s *Store) Store(ctx context.Context, r io.Reader, filename string) (string, error) {
	name, err := domain.ObjectName(filename)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", &domain.StorageError{Backend: backendName, Op: "upload", Err: err}
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", classify("create_container", err)
	}

	tmp, err := os.CreateTemp(s.dir, "."+name+".*")
	if err != nil {
		return "", classify("upload", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return "", classify("upload", err)
	}
	if err := tmp.Close(); err != nil {
		return "", classify("upload", err)
	}
	if err := os.Rename(tmpName, filepath.Join(s.dir, name)); err != nil {
		return "", classify("upload", err)
	}

	s.log.Debug("attachment stored", zap.String("object", name))
	return s.baseURL + url.PathEscape(name), nil
}

func classify(op string, err error) error {
	return &domain.StorageError{
		Backend: backendName,
		Op:      op,
		Quota:   errors.Is(err, syscall.ENOSPC) || errors.Is(err, syscall.EDQUOT),
		Err:     err,
	}
}
