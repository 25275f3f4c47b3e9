package testutils

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aretw0/spooler/pkg/domain"
	"github.com/stretchr/testify/require"
)

// SpoolDir creates a temporary spool directory and returns its absolute path.
func SpoolDir(t *testing.T) string {
	t.Helper()

	absPath, err := filepath.Abs(t.TempDir())
	require.NoError(t, err, "Failed to get absolute path for temp dir")
	return absPath
}

// SpoolFiles lists the file names in dir. A missing directory has no files.
func SpoolFiles(t *testing.T, dir string) []string {
	t.Helper()

	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)

	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

// ChunkedRequest returns a chunked POST head, optionally expecting 100-continue.
func ChunkedRequest(expectContinue bool) *domain.Message {
	m := domain.NewRequest("POST", "/upload")
	m.Header.Set(domain.HeaderTransferEncoding, domain.EncodingChunked)
	if expectContinue {
		m.Header.Set(domain.HeaderExpect, domain.ExpectContinue)
	}
	return m
}

// ReadBody reads a whole body, failing the test on error.
func ReadBody(t *testing.T, body domain.Body) string {
	t.Helper()
	require.NotNil(t, body)

	rc, err := body.Open()
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(data)
}
