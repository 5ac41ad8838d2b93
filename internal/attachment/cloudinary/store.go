package cloudinary

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/admin"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"go.uber.org/zap"

	"github.com/smallbiznis/feedbackhub/internal/attachment/domain"
)

const backendName = "cloudinary"

type Config struct {
	URL       string
	CloudName string
	APIKey    string
	APISecret string
	Container string
}

// cloudAPI is the slice of the Cloudinary SDK the store touches.
type cloudAPI interface {
	SubFolders(ctx context.Context, params admin.SubFoldersParams) (*admin.FoldersResult, error)
	CreateFolder(ctx context.Context, params admin.CreateFolderParams) (*admin.CreateFolderResult, error)
	Upload(ctx context.Context, file interface{}, params uploader.UploadParams) (*uploader.UploadResult, error)
}

type sdk struct {
	cld *cloudinary.Cloudinary
}

func (s sdk) SubFolders(ctx context.Context, params admin.SubFoldersParams) (*admin.FoldersResult, error) {
	return s.cld.Admin.SubFolders(ctx, params)
}

func (s sdk) CreateFolder(ctx context.Context, params admin.CreateFolderParams) (*admin.CreateFolderResult, error) {
	return s.cld.Admin.CreateFolder(ctx, params)
}

func (s sdk) Upload(ctx context.Context, file interface{}, params uploader.UploadParams) (*uploader.UploadResult, error) {
	return s.cld.Upload.Upload(ctx, file, params)
}

type Store struct {
	api       cloudAPI
	container string
	log       *zap.Logger

	// ensured is set once the folder is confirmed. Concurrent first uploads
	// may each check; create tolerates "already exists".
	ensured atomic.Bool
}

func New(cfg Config, log *zap.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.Container) == "" {
		return nil, errors.New("cloudinary container is required")
	}

	var (
		cld *cloudinary.Cloudinary
		err error
	)
	switch {
	case cfg.URL != "":
		cld, err = cloudinary.NewFromURL(cfg.URL)
	case cfg.CloudName != "" && cfg.APIKey != "" && cfg.APISecret != "":
		cld, err = cloudinary.NewFromParams(cfg.CloudName, cfg.APIKey, cfg.APISecret)
	default:
		return nil, errors.New("cloudinary credentials are required")
	}
	if err != nil {
		return nil, fmt.Errorf("cloudinary init: %w", err)
	}

	return newWithAPI(sdk{cld: cld}, cfg.Container, log), nil
}

func newWithAPI(a cloudAPI, container string, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{api: a, container: container, log: log.Named("attachment.cloudinary")}
}

func (s *Store) Backend() string { return backendName }

func (s *Store) Store(ctx context.Context, r io.Reader, filename string) (string, error) {
	name, err := domain.ObjectName(filename)
	if err != nil {
		return "", err
	}
	if err := s.ensureContainer(ctx); err != nil {
		return "", err
	}

	overwrite := true
	unique := false
	invalidate := true
	res, err := s.api.Upload(ctx, r, uploader.UploadParams{
		Folder:         s.container,
		PublicID:       strings.TrimSuffix(name, filepath.Ext(name)),
		Overwrite:      &overwrite,
		UniqueFilename: &unique,
		Invalidate:     &invalidate,
		ResourceType:   "auto",
	})
	if err != nil {
		return "", &domain.StorageError{Backend: backendName, Op: "upload", Err: err}
	}
	if res == nil {
		return "", &domain.StorageError{Backend: backendName, Op: "upload", Err: errors.New("empty upload response")}
	}
	if msg := res.Error.Message; msg != "" {
		return "", &domain.StorageError{Backend: backendName, Op: "upload", Quota: isQuotaMessage(msg), Err: errors.New(msg)}
	}
	if res.SecureURL == "" {
		return "", &domain.StorageError{Backend: backendName, Op: "upload", Err: errors.New("upload response missing secure url")}
	}

	s.log.Debug("attachment uploaded", zap.String("container", s.container), zap.String("object", name))
	return res.SecureURL, nil
}

// ensureContainer checks for the folder and creates it when absent. Only a
// confirmed folder is remembered so a failed check is retried on the next
// upload.
func (s *Store) ensureContainer(ctx context.Context) error {
	if s.ensured.Load() {
		return nil
	}

	res, err := s.api.SubFolders(ctx, admin.SubFoldersParams{Folder: s.container})
	if err != nil {
		return &domain.StorageError{Backend: backendName, Op: "check_container", Err: err}
	}
	if res != nil && res.Error.Message == "" {
		s.ensured.Store(true)
		return nil
	}
	if res != nil && !isNotFoundMessage(res.Error.Message) {
		msg := res.Error.Message
		return &domain.StorageError{Backend: backendName, Op: "check_container", Quota: isQuotaMessage(msg), Err: errors.New(msg)}
	}

	created, err := s.api.CreateFolder(ctx, admin.CreateFolderParams{Folder: s.container})
	if err != nil {
		return &domain.StorageError{Backend: backendName, Op: "create_container", Err: err}
	}
	if created != nil && created.Error.Message != "" && !isAlreadyExistsMessage(created.Error.Message) {
		msg := created.Error.Message
		return &domain.StorageError{Backend: backendName, Op: "create_container", Quota: isQuotaMessage(msg), Err: errors.New(msg)}
	}

	s.log.Info("attachment container created", zap.String("container", s.container))
	s.ensured.Store(true)
	return nil
}

func isQuotaMessage(msg string) bool {
	m := strings.ToLower(msg)
	for _, needle := range []string{"quota", "limit exceeded", "rate limit", "storage limit", "too large", "exceeds"} {
		if strings.Contains(m, needle) {
			return true
		}
	}
	return false
}

func isNotFoundMessage(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "can't find") || strings.Contains(m, "not found")
}

func isAlreadyExistsMessage(msg string) bool {
	return strings.Contains(strings.ToLower(msg), "already exists")
}
