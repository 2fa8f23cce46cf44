package pathres

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

const (
	// MaxNameLen is the maximum length of a sanitized path segment. Longer
	// segments are shortened and made unique with a hash suffix.
	MaxNameLen = 200

	hashSuffixLen = 16
	upperHex      = "0123456789ABCDEF"
)

// Options configures the path layout
type Options struct {
	// Depth is the number of cluster directory levels between the group
	// directory and the entry file (1-4).
	Depth int
	// Width is the number of hex characters per cluster level (1-4). Every
	// cluster directory has at most 16^Width subdirectories.
	Width int
	// Extension is the file extension of entry files, without the dot.
	Extension string
}

// DefaultOptions returns the default layout: two levels of two hex characters
// and the extension "obj".
func DefaultOptions() *Options {
	return &Options{
		Depth:     2,
		Width:     2,
		Extension: "obj",
	}
}

// Resolver maps (group, key) identities to file paths below a base directory.
// A Resolver is immutable and safe for concurrent use.
type Resolver struct {
	base  string
	depth int
	width int
	ext   string
}

// New creates a resolver for the given base directory.
func New(base string, opts *Options) (*Resolver, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if base == "" {
		return nil, fmt.Errorf("pathres: base directory must not be empty")
	}
	if opts.Depth < 1 || opts.Depth > 4 {
		return nil, fmt.Errorf("pathres: cluster depth %d out of range (1-4)", opts.Depth)
	}
	if opts.Width < 1 || opts.Width > 4 {
		return nil, fmt.Errorf("pathres: cluster width %d out of range (1-4)", opts.Width)
	}
	ext := strings.TrimPrefix(opts.Extension, ".")
	if ext != "" && Sanitize(ext) != ext {
		return nil, fmt.Errorf("pathres: invalid file extension %q", opts.Extension)
	}
	return &Resolver{
		base:  filepath.Clean(base),
		depth: opts.Depth,
		width: opts.Width,
		ext:   ext,
	}, nil
}

// Base returns the base directory
func (r *Resolver) Base() string {
	return r.base
}

// Extension returns the entry file extension without the dot
func (r *Resolver) Extension() string {
	return r.ext
}

// MaxDirEntries is the maximum number of subdirectories of a cluster directory
func (r *Resolver) MaxDirEntries() int {
	return 1 << (4 * r.width)
}

// Resolve returns the entry file path of (group, key):
//
//	<base>/<group>/<c1>/<c2>/.../<key>.<ext>
//
// The function is pure, it does not touch the filesystem.
func (r *Resolver) Resolve(group, key string) string {
	parts := make([]string, 0, r.depth+3)
	parts = append(parts, r.base, Sanitize(group))
	parts = append(parts, r.Cluster(key)...)

	name := Sanitize(key)
	if r.ext != "" {
		name += "." + r.ext
	}
	parts = append(parts, name)
	return filepath.Join(parts...)
}

// GroupDir returns the directory holding all entries of a group
func (r *Resolver) GroupDir(group string) string {
	return filepath.Join(r.base, Sanitize(group))
}

// Cluster returns the cluster directory names of a key. They are taken from
// the hex rendering of the key's 64 bit xxhash.
func (r *Resolver) Cluster(key string) []string {
	h := strconv.FormatUint(xxhash.Sum64String(key), 16)
	if len(h) < 16 {
		h = strings.Repeat("0", 16-len(h)) + h
	}

	levels := make([]string, r.depth)
	for i := range levels {
		levels[i] = h[i*r.width : (i+1)*r.width]
	}
	return levels
}

// Sanitize converts an arbitrary string into a single, portable path segment.
//
// Lowercase letters, digits, '_' and '-' are kept as they are, '.' is kept
// unless it is the first or the last byte. Every other byte (including '%' and
// uppercase letters) is escaped as %XX, so distinct inputs map to distinct
// outputs. Escapes only use uppercase hex digits and '%' is always escaped,
// therefore the outputs also stay distinct on case-insensitive filesystems:
// "Users" and "users" never share a directory. The empty string maps to
// "%" which no escaped name can produce. Names that would exceed MaxNameLen are
// cut and suffixed with '~' and a hash of the full input.
func Sanitize(s string) string {
	if s == "" {
		return "%"
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case isPlain(c):
			b.WriteByte(c)
		case c == '.' && i > 0 && i < len(s)-1:
			b.WriteByte(c)
		default:
			writeEscaped(&b, c)
		}
	}
	out := b.String()

	if isReserved(out) {
		// escape the first byte, all reserved names start with a letter
		// (only lowercase ones get here, uppercase letters are escaped)
		var e strings.Builder
		writeEscaped(&e, out[0])
		out = e.String() + out[1:]
	}

	if len(out) > MaxNameLen {
		sum := sha256.Sum256([]byte(s))
		cut := MaxNameLen - hashSuffixLen - 1
		// do not split an escape sequence
		if i := strings.LastIndexByte(out[cut-2:cut], '%'); i >= 0 {
			cut = cut - 2 + i
		}
		out = out[:cut] + "~" + hex.EncodeToString(sum[:])[:hashSuffixLen]
	}
	return out
}

// EnsureDir creates the parent directories of path
func EnsureDir(path string, perm os.FileMode) error {
	return os.MkdirAll(filepath.Dir(path), perm)
}

func isPlain(c byte) bool {
	return c >= 'a' && c <= 'z' ||
		c >= '0' && c <= '9' ||
		c == '_' || c == '-'
}

func writeEscaped(b *strings.Builder, c byte) {
	b.WriteByte('%')
	b.WriteByte(upperHex[c>>4])
	b.WriteByte(upperHex[c&0x0F])
}

// isReserved reports whether name is a device name on Windows filesystems,
// which are reserved in every directory and with every extension.
func isReserved(name string) bool {
	base := strings.ToUpper(name)
	if i := strings.IndexByte(base, '.'); i >= 0 {
		base = base[:i]
	}
	switch base {
	case "CON", "PRN", "AUX", "NUL":
		return true
	}
	if len(base) == 4 && (strings.HasPrefix(base, "COM") || strings.HasPrefix(base, "LPT")) {
		return base[3] >= '1' && base[3] <= '9'
	}
	return false
}
