package tokenstore

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
)

const fileExtension = ".token"

// safeIdentity matches identities usable verbatim as a file name.
var safeIdentity = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._@-]{0,127}$`)

// FileName maps an identity to its record file name. Identities that are not safe
// file names are replaced by their SHA-256 so distinct identities never collide
// with each other or escape the token directory.
func FileName(identity string) string {
	if safeIdentity.MatchString(identity) {
		return identity + fileExtension
	}
	sum := sha256.Sum256([]byte(identity))
	return hex.EncodeToString(sum[:]) + fileExtension
}

// DefaultDir returns the per-user token directory:
// ~/.local/share/rss-to-kobo/tokens on Unix, ~/.rss-to-kobo/tokens on Windows.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	if runtime.GOOS == "windows" {
		return filepath.Join(home, ".rss-to-kobo", "tokens"), nil
	}
	if dataHome := os.Getenv("XDG_DATA_HOME"); dataHome != "" {
		return filepath.Join(dataHome, "rss-to-kobo", "tokens"), nil
	}
	return filepath.Join(home, ".local", "share", "rss-to-kobo", "tokens"), nil
}
