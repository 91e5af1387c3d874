package gcs

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	buf      bytes.Buffer
	closed   bool
	writeErr error
	closeErr error
}

func (w *fakeWriter) Write(p []byte) (int, error) {
	if w.writeErr != nil {
		return 0, w.writeErr
	}
	return w.buf.Write(p)
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return w.closeErr
}

func newFakeStore(t *testing.T, w *fakeWriter) (*BlobStore, *[]string) {
	t.Helper()
	s, err := newStore(Config{Bucket: "snapshots"})
	require.NoError(t, err)
	var paths []string
	s.newWriter = func(_ context.Context, path, _ string) objectWriter {
		paths = append(paths, path)
		return w
	}
	return s, &paths
}

func TestNewRequiresClientAndBucket(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)
	_, err = newStore(Config{Bucket: "  "})
	require.Error(t, err)
}

func TestPutObjectWritesAndCloses(t *testing.T) {
	t.Parallel()

	w := &fakeWriter{}
	s, paths := newFakeStore(t, w)
	uri, err := s.PutObject(context.Background(), "/html/abc.html", "text/html", strings.NewReader("<html/>"))
	require.NoError(t, err)
	require.Equal(t, "gs://snapshots/html/abc.html", uri)
	require.Equal(t, []string{"html/abc.html"}, *paths)
	require.True(t, w.closed)
	require.Equal(t, "<html/>", w.buf.String())
}

func TestPutObjectErrors(t *testing.T) {
	t.Parallel()

	s, _ := newFakeStore(t, &fakeWriter{writeErr: errors.New("boom")})
	_, err := s.PutObject(context.Background(), "a.html", "text/html", strings.NewReader("x"))
	require.ErrorContains(t, err, "copy object")

	s, _ = newFakeStore(t, &fakeWriter{closeErr: errors.New("precondition")})
	_, err = s.PutObject(context.Background(), "a.html", "text/html", strings.NewReader("x"))
	require.ErrorContains(t, err, "close writer")

	_, err = s.PutObject(context.Background(), "", "text/html", strings.NewReader("x"))
	require.Error(t, err)
}
