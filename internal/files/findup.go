package files

import (
	"os"
	"path/filepath"
)

// FindUp looks for name in dir, then in each parent of dir up to the filesystem root,
// and returns the first match. It returns "" if nothing matches.
func FindUp(name, dir string) string {
	for cur := filepath.Clean(dir); ; {
		candidate := filepath.Join(cur, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return ""
		}
		cur = parent
	}
}
