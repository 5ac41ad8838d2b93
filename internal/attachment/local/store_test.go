package local

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallbiznis/feedbackhub/internal/attachment/domain"
)

func TestStoreRoundTrip(t *testing.T) {
	root := t.TempDir()
	mux := http.NewServeMux()
	mux.Handle(URLPrefix+"/", http.StripPrefix(URLPrefix, http.FileServer(http.Dir(root))))
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s, err := New(Config{Root: root, Container: "feedback-uploads", PublicBaseURL: srv.URL}, nil)
	require.NoError(t, err)

	url, err := s.Store(context.Background(), strings.NewReader("first"), "Bug Report.TXT")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/uploads/feedback-uploads/bug-report.txt", url)

	url, err = s.Store(context.Background(), strings.NewReader("second"), "Bug Report.TXT")
	require.NoError(t, err)

	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "second", string(body))

	entries, err := os.ReadDir(root + "/feedback-uploads")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestStoreUnwritableRootIsUnavailable(t *testing.T) {
	root := t.TempDir()
	blocker := root + "/file"
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	s, err := New(Config{Root: blocker, Container: "c", PublicBaseURL: "http://x"}, nil)
	require.NoError(t, err)

	_, err = s.Store(context.Background(), strings.NewReader("x"), "a.txt")
	assert.ErrorIs(t, err, domain.ErrStorageUnavailable)
}

func TestClassifyDiskFull(t *testing.T) {
	err := classify("upload", &os.PathError{Op: "write", Path: "/x", Err: syscall.ENOSPC})
	assert.ErrorIs(t, err, domain.ErrStorageQuotaExceeded)
	assert.NotErrorIs(t, err, domain.ErrStorageUnavailable)
}

func TestNewRejectsNestedContainer(t *testing.T) {
	_, err := New(Config{Root: t.TempDir(), Container: "a/b"}, nil)
	assert.Error(t, err)
}
