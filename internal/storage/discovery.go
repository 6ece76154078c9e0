package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// RootEnv overrides project root discovery. It is mostly useful for tests
// and for hooks that run outside the project tree.
const RootEnv = "QGATE_ROOT"

// DiscoverProjectRoot finds the project root for startDir. Returns an absolute path.
//
// Lookup order, each walking up from startDir:
//  1. $QGATE_ROOT
//  2. a directory holding .qgate.yaml or .qgate/
//  3. the repository root (.git)
//  4. the nearest tsconfig.json or package.json
//  5. startDir itself
func DiscoverProjectRoot(startDir string) (string, error) {
	if root := os.Getenv(RootEnv); root != "" {
		abs, err := filepath.Abs(root)
		if err != nil {
			return "", fmt.Errorf("failed to get absolute path: %w", err)
		}
		return abs, nil
	}

	if startDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("failed to get current directory: %w", err)
		}
		startDir = wd
	}
	start, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	for _, markers := range [][]string{
		{".qgate.yaml", ".qgate"},
		{".git"},
		{"tsconfig.json", "package.json"},
	} {
		if dir, ok := walkUp(start, markers...); ok {
			return dir, nil
		}
	}
	return start, nil
}

// walkUp returns the first directory at or above start containing any of names
func walkUp(start string, names ...string) (string, bool) {
	dir := start
	for {
		for _, name := range names {
			if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
				return dir, true
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

// ProjectPath resolves p against root unless it is already absolute
func ProjectPath(root, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(root, p)
}

// IsAtOrBelow reports whether path is root or inside it
func IsAtOrBelow(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
