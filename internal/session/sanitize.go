package session

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	defaultName   = "video"
	defaultExt    = ".mp4"
	maxNameBytes  = 200
	allowedSymbol = "-_. "
)

var videoExtensions = map[string]struct{}{
	".mkv": {},
	".mp4": {},
	".avi": {},
	".mov": {},
}

// Sanitizer turns user-supplied names into safe filenames.
type Sanitizer struct {
	scripts []*unicode.RangeTable
}

// NewSanitizer allows the letters of the named Unicode scripts on top of ASCII
// alphanumerics.
func NewSanitizer(scripts ...string) (*Sanitizer, error) {
	s := &Sanitizer{}

	for _, name := range scripts {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}

		table, ok := unicode.Scripts[name]
		if !ok {
			return nil, fmt.Errorf("unknown unicode script %q", name)
		}

		s.scripts = append(s.scripts, table)
	}

	return s, nil
}

func (s *Sanitizer) allowed(r rune) bool {
	if r < utf8.RuneSelf {
		return 'a' <= r && r <= 'z' || 'A' <= r && r <= 'Z' || '0' <= r && r <= '9' || strings.ContainsRune(allowedSymbol, r)
	}

	for _, table := range s.scripts {
		if unicode.Is(table, r) {
			return true
		}
	}

	return false
}

// Sanitize drops disallowed characters, collapses spaces and makes sure the
// name carries a video extension.
func (s *Sanitizer) Sanitize(name string) string {
	var b strings.Builder

	for _, r := range name {
		if s.allowed(r) {
			b.WriteRune(r)
		}
	}

	clean := strings.Join(strings.Fields(b.String()), " ")

	base, ext := clean, defaultExt
	if e := filepath.Ext(clean); isVideoExt(e) {
		base, ext = strings.TrimSuffix(clean, e), e
	}

	base = truncate(strings.TrimSpace(base), maxNameBytes)
	if base == "" {
		base = defaultName
	}

	return base + ext
}

func isVideoExt(ext string) bool {
	_, ok := videoExtensions[strings.ToLower(ext)]

	return ok
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}

	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}

	return strings.TrimSpace(s[:n])
}

// IsSourceURL reports whether text is an http or https URL with a host.
func IsSourceURL(text string) bool {
	lower := strings.ToLower(text)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		return false
	}

	u, err := url.Parse(text)

	return err == nil && u.Host != ""
}
