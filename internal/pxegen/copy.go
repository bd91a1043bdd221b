package pxegen

import (
	"io"
	"path/filepath"

	"github.com/spf13/afero"
)

// copyFile copies src to dst with an atomic rename. A destination with the
// same size and modification time as the source is considered current and
// left alone; the source mtime is carried over so later runs can tell.
func copyFile(fs afero.Fs, src, dst string) (bool, error) {
	srcInfo, err := fs.Stat(src)
	if err != nil {
		return false, err
	}
	if dstInfo, err := fs.Stat(dst); err == nil &&
		dstInfo.Mode().IsRegular() &&
		dstInfo.Size() == srcInfo.Size() &&
		dstInfo.ModTime().Equal(srcInfo.ModTime()) {
		return false, nil
	}

	// Ensure parent directory exists
	if err := fs.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return false, err
	}

	srcFile, err := fs.Open(src)
	if err != nil {
		return false, err
	}
	defer func() {
		_ = srcFile.Close()
	}()

	tmpFile, err := afero.TempFile(fs, filepath.Dir(dst), ".bootsyncd-tmp-*")
	if err != nil {
		return false, err
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = fs.Remove(tmpPath)
	}() // cleanup on error

	if _, err := io.Copy(tmpFile, srcFile); err != nil {
		_ = tmpFile.Close()
		return false, err
	}
	if err := tmpFile.Close(); err != nil {
		return false, err
	}
	if err := fs.Chmod(tmpPath, srcInfo.Mode().Perm()); err != nil {
		return false, err
	}
	if err := fs.Chtimes(tmpPath, srcInfo.ModTime(), srcInfo.ModTime()); err != nil {
		return false, err
	}
	if err := fs.Rename(tmpPath, dst); err != nil {
		return false, err
	}

	return true, nil
}
