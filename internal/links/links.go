// Package links resolves raw href/src strings into absolute, crawlable URLs.
package links

import (
	"net/url"
	"path"
	"strings"

	"go.uber.org/zap"
)

// documentExtensions lists path suffixes that are never crawled as pages.
var documentExtensions = map[string]struct{}{
	".pdf":  {},
	".doc":  {},
	".docx": {},
	".xls":  {},
	".xlsx": {},
	".ppt":  {},
	".pptx": {},
	".zip":  {},
	".gz":   {},
	".tar":  {},
	".rar":  {},
	".7z":   {},
}

// Normalizer resolves and filters links. The zero value is usable and silent.
type Normalizer struct {
	logger  *zap.Logger
	blocked *HostBlocklist
}

// New returns a Normalizer that logs dropped entries at debug level. Navigable links to
// blockedHosts (see NewHostBlocklist) are dropped.
func New(logger *zap.Logger, blockedHosts ...string) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{logger: logger, blocked: NewHostBlocklist(blockedHosts)}
}

// Normalize resolves raw against base following RFC 3986 reference resolution.
// The fragment is dropped. It reports false for malformed input.
func Normalize(base *url.URL, raw string) (*url.URL, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, false
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return nil, false
	}
	resolved := ref
	if base != nil {
		resolved = base.ResolveReference(ref)
	}
	resolved.Fragment = ""
	resolved.RawFragment = ""
	resolved.Scheme = strings.ToLower(resolved.Scheme)
	resolved.Host = strings.ToLower(resolved.Host)
	return resolved, true
}

// ParseBase parses an absolute http(s) URL used as a resolution base.
func ParseBase(raw string) (*url.URL, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || !isWeb(u) {
		return nil, false
	}
	return u, true
}

// FilterNavigable resolves raws against base and keeps unique http(s) URLs whose path does
// not end in a document extension. Input order is preserved.
func (n *Normalizer) FilterNavigable(base *url.URL, raws []string) []string {
	return n.filter(base, raws, func(u *url.URL) bool {
		return isWeb(u) && !isDocument(u) && !n.isBlocked(u)
	})
}

// FilterImageable resolves raws against base and keeps unique http(s) URLs.
// Commas are percent-encoded so the result survives the delimited image_urls column.
func (n *Normalizer) FilterImageable(base *url.URL, raws []string) []string {
	out := n.filter(base, raws, isWeb)
	for i, u := range out {
		out[i] = strings.ReplaceAll(u, ",", "%2C")
	}
	return out
}

func (n *Normalizer) filter(base *url.URL, raws []string, keep func(*url.URL) bool) []string {
	out := make([]string, 0, len(raws))
	seen := make(map[string]struct{}, len(raws))
	for _, raw := range raws {
		u, ok := Normalize(base, raw)
		if !ok || !keep(u) {
			n.log().Debug("link dropped", zap.String("raw", raw))
			continue
		}
		s := u.String()
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func (n *Normalizer) isBlocked(u *url.URL) bool {
	return n != nil && n.blocked.Blocks(u.Hostname())
}

func (n *Normalizer) log() *zap.Logger {
	if n == nil || n.logger == nil {
		return zap.NewNop()
	}
	return n.logger
}

func isWeb(u *url.URL) bool {
	if u == nil || u.Host == "" || u.Opaque != "" {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

func isDocument(u *url.URL) bool {
	ext := strings.ToLower(path.Ext(u.Path))
	_, denied := documentExtensions[ext]
	return denied
}
