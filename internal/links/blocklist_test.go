package links

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHostBlocklist(t *testing.T) {
	t.Parallel()

	t.Run("exact match", func(t *testing.T) {
		t.Parallel()
		bl := NewHostBlocklist([]string{" Example.org "})
		require.NotNil(t, bl)
		require.True(t, bl.Blocks("example.org"))
		require.False(t, bl.Blocks("sub.example.org"))
	})

	t.Run("wildcard suffix", func(t *testing.T) {
		t.Parallel()
		bl := NewHostBlocklist([]string{"*.ru", ".internal", "*.ru"})
		require.NotNil(t, bl)
		cases := map[string]bool{
			"example.ru":    true,
			"sub.domain.ru": true,
			"ru":            true,
			"api.internal":  true,
			"example.com":   false,
			"notru":         false,
			"internal.com":  false,
		}
		for host, blocked := range cases {
			require.Equal(t, blocked, bl.Blocks(host), host)
		}
	})

	t.Run("empty patterns", func(t *testing.T) {
		t.Parallel()
		require.Nil(t, NewHostBlocklist([]string{"", "  ", "*."}))
		var bl *HostBlocklist
		require.False(t, bl.Blocks("anything"))
	})
}

func TestFilterNavigable_SkipsBlockedHosts(t *testing.T) {
	t.Parallel()

	n := New(zap.NewNop(), "*.tracker.example", "ads.example.com")
	base, err := url.Parse("https://example.com/")
	require.NoError(t, err)

	got := n.FilterNavigable(base, []string{
		"/about",
		"https://ads.example.com/click",
		"https://pixel.tracker.example:8443/p",
		"https://example.com/blog",
	})
	require.Equal(t, []string{"https://example.com/about", "https://example.com/blog"}, got)

	imgs := n.FilterImageable(base, []string{"https://ads.example.com/banner.png"})
	require.Equal(t, []string{"https://ads.example.com/banner.png"}, imgs)
}
