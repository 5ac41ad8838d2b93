package domain

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"

	"github.com/gosimple/slug"
)

// Store uploads one object into the fixed container and returns its public
// URL. A second upload under the same name replaces the first.
type Store interface {
	Store(ctx context.Context, r io.Reader, filename string) (string, error)
	Backend() string
}

var (
	ErrStorageUnavailable   = errors.New("storage_unavailable")
	ErrStorageQuotaExceeded = errors.New("storage_quota_exceeded")
	ErrInvalidFilename      = errors.New("invalid_filename")
)

// StorageError carries the backend failure. It matches exactly one of the
// two sentinels above.
type StorageError struct {
	Backend string
	Op      string
	Quota   bool
	Err     error
}

func (e *StorageError) Error() string {
	msg := e.Backend + " " + e.Op + ": " + e.Kind()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StorageError) Kind() string {
	if e.Quota {
		return ErrStorageQuotaExceeded.Error()
	}
	return ErrStorageUnavailable.Error()
}

func (e *StorageError) Unwrap() []error {
	sentinel := ErrStorageUnavailable
	if e.Quota {
		sentinel = ErrStorageQuotaExceeded
	}
	if e.Err == nil {
		return []error{sentinel}
	}
	return []error{sentinel, e.Err}
}

// ObjectName turns a client supplied filename into a safe object name:
// directory parts dropped, stem slugified, extension lower-cased.
func ObjectName(filename string) (string, error) {
	base := filepath.Base(strings.ReplaceAll(strings.TrimSpace(filename), `\`, "/"))
	if base == "." || base == "/" || base == "" {
		return "", ErrInvalidFilename
	}

	ext := strings.ToLower(filepath.Ext(base))
	stem := slug.Make(strings.TrimSuffix(base, filepath.Ext(base)))
	if stem == "" {
		return "", ErrInvalidFilename
	}

	cleanExt := strings.Map(func(r rune) rune {
		if r == '.' || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			return r
		}
		return -1
	}, ext)
	if cleanExt == "." {
		cleanExt = ""
	}
	return stem + cleanExt, nil
}
