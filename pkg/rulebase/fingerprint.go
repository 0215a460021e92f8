package rulebase

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"time"
)

// Fingerprint identifies one observed version of one rule source file.
// It is immutable once computed.
type Fingerprint struct {
	// Path is the repository-relative path of the source file.
	Path string

	// Hash is the hex-encoded SHA-256 of the file contents.
	Hash string

	// ObservedAt is when this fingerprint was computed.
	ObservedAt time.Time
}

// NewFingerprint computes a fingerprint for the given source contents.
func NewFingerprint(path string, data []byte) Fingerprint {
	return Fingerprint{
		Path:       path,
		Hash:       fmt.Sprintf("%x", sha256.Sum256(data)),
		ObservedAt: time.Now(),
	}
}

// FingerprintSet is the set of fingerprints from one scan of the rule
// sources, keyed by path.
type FingerprintSet map[string]Fingerprint

// Hash returns a stable content hash for the whole set. Two scans that
// observed identical sources produce the same hash regardless of scan
// order or timestamps. The hash is the compilation-cache key.
func (s FingerprintSet) Hash() string {
	paths := make([]string, 0, len(s))
	for path := range s {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	h := sha256.New()
	for _, path := range paths {
		h.Write([]byte(path))
		h.Write([]byte{0})
		h.Write([]byte(s[path].Hash))
		h.Write([]byte{0})
	}
	return fmt.Sprintf("%x", h.Sum(nil))[:16]
}

// Diff compares this set against a newer scan and returns the paths that
// were added, modified, or deleted, sorted for stable reporting.
func (s FingerprintSet) Diff(next FingerprintSet) []string {
	changed := make([]string, 0)

	for path, fp := range next {
		prev, ok := s[path]
		if !ok || prev.Hash != fp.Hash {
			changed = append(changed, path)
		}
	}
	for path := range s {
		if _, ok := next[path]; !ok {
			changed = append(changed, path)
		}
	}

	sort.Strings(changed)
	return changed
}
