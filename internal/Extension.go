package internal

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"
)

// BytesToHex converts a byte slice to a hexadecimal string
func BytesToHex(bytes []byte) string {
	return hex.EncodeToString(bytes)
}

// GetStagingFilenameHash derives the name of the temporary file an item is written to
// before it is moved into place.
func GetStagingFilenameHash(id ItemId, source string) string {
	h := xxhash.New()
	h.WriteString(fmt.Sprintf("%d$%s", uint64(id), source))
	return BytesToHex(h.Sum(nil)) + "_tempUpdate"
}

// EnsureDirectoryExistence creates dir (and parents) if it is missing.
func EnsureDirectoryExistence(dir string) error {
	if dir == "" {
		return errors.New("directory path cannot be empty")
	}

	info, err := os.Stat(dir)
	switch {
	case err == nil && !info.IsDir():
		return fmt.Errorf("path: %s exists and is not a directory", dir)
	case err == nil:
		return nil
	case !errors.Is(err, os.ErrNotExist):
		return err
	}
	return os.MkdirAll(dir, 0755)
}

// UnassignReadOnlyFromFileInfo removes the read-only flag from a file
func UnassignReadOnlyFromFileInfo(filePath string) error {
	info, err := os.Stat(filePath)
	if err != nil {
		return err
	}

	if info.Mode()&0200 == 0 {
		return os.Chmod(filePath, info.Mode()|0200)
	}

	return nil
}

// RemoveStaleStagingFiles deletes leftovers of interrupted writes in dir.
func RemoveStaleStagingFiles(dir string) {
	files, _ := filepath.Glob(filepath.Join(dir, "*_tempUpdate"))
	for _, f := range files {
		os.Remove(f)
	}
}

// writeFileAtomic streams src into a staging file next to dst and renames it over dst
// once fully written. The staging file is removed on any failure.
func writeFileAtomic(dst, stagingName string, src io.Reader) (int64, error) {
	dir := filepath.Dir(dst)
	if err := EnsureDirectoryExistence(dir); err != nil {
		return 0, err
	}

	staging := filepath.Join(dir, stagingName)
	f, err := os.OpenFile(staging, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return 0, err
	}

	written, err := io.Copy(f, src)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(staging)
		return written, err
	}

	if _, err := os.Stat(dst); err == nil {
		if err := UnassignReadOnlyFromFileInfo(dst); err != nil {
			os.Remove(staging)
			return written, err
		}
	}

	if err := os.Rename(staging, dst); err != nil {
		os.Remove(staging)
		return written, err
	}
	return written, nil
}

// ToSet converts a slice to a set (map with empty struct values)
func ToSet[T comparable](items []T) map[T]struct{} {
	set := make(map[T]struct{}, len(items))
	for _, item := range items {
		set[item] = struct{}{}
	}
	return set
}
