package crawler

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestImageURLCodec(t *testing.T) {
	t.Parallel()

	urls := []string{"https://example.com/a.png", "https://cdn.example.com/b%2Cc.jpg"}
	joined := JoinImageURLs(urls)
	require.Equal(t, "https://example.com/a.png,https://cdn.example.com/b%2Cc.jpg", joined)
	require.Equal(t, urls, SplitImageURLs(joined))

	require.Equal(t, []string{}, SplitImageURLs(""))
	require.Equal(t, []string{}, SplitImageURLs("   "))
	require.Equal(t, []string{"a", "b"}, SplitImageURLs(" a ,, b ,"))
}

func TestRenderedPageBaseURL(t *testing.T) {
	t.Parallel()

	require.Equal(t, "https://a.test/", RenderedPage{URL: "https://a.test/"}.BaseURL())
	require.Equal(t, "https://b.test/x", RenderedPage{URL: "https://a.test/", FinalURL: "https://b.test/x"}.BaseURL())
}

func TestCacheKeyString(t *testing.T) {
	t.Parallel()

	require.Equal(t, "search:go lang:2:10", CacheKey{Query: "go lang", Page: 2, PageSize: 10}.String())
}

func TestTaskCompleteOnce(t *testing.T) {
	t.Parallel()

	task := NewTask("t-1", "https://example.com", time.Unix(0, 0))
	require.NoError(t, task.Err())
	select {
	case <-task.Done():
		t.Fatal("new task must not be done")
	default:
	}

	boom := errors.New("boom")
	task.Complete(boom)
	task.Complete(nil)

	<-task.Done()
	require.ErrorIs(t, task.Err(), boom)
}
