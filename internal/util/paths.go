package util

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
)

// HomeDir returns the user's home directory
func HomeDir() string {
	home, _ := os.UserHomeDir()
	return home
}

// ConfigPath returns the confsync configuration directory (~/.confsync)
func ConfigPath() string {
	return filepath.Join(HomeDir(), ".confsync")
}

// RelativePath returns path relative to base, or the original path when it
// cannot be expressed relative to base.
func RelativePath(path, base string) string {
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return path
	}
	return rel
}

// ShortDigest returns the first 8 hex digits of the SHA-256 digest of s.
// Used to derive stable, collision-resistant page titles from file paths.
func ShortDigest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:8]
}

// Digest returns the full SHA-256 hex digest of data.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
