package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// FindProjectRoot walks up from this source file to the directory holding go.mod
func FindProjectRoot() (string, error) {
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		return "", fmt.Errorf("failed to get caller information")
	}

	dir := filepath.Dir(filename)
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("go.mod not found in any parent directory")
		}
		dir = parent
	}
}

// ProjectPath joins elem onto the project root, failing the test if the root
// cannot be located.
func ProjectPath(t testing.TB, elem ...string) string {
	t.Helper()
	root, err := FindProjectRoot()
	if err != nil {
		t.Fatalf("locate project root: %v", err)
	}
	return filepath.Join(append([]string{root}, elem...)...)
}
