package internal

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz/lzma"
)

// PackageExtension is the file extension of the package format the host consumes.
const PackageExtension = ".gma"

var (
	// PackageSignature is the first four bytes of every package file.
	PackageSignature = []byte("GMAD")

	zstdFrameMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

var (
	ErrPackageNotFound = errors.New("no package or container found in install folder")
	ErrBadSignature    = errors.New("package does not begin with the expected signature")
)

// ArtifactResolver turns a backend install folder into a package file inside CacheDir.
type ArtifactResolver struct {
	CacheDir string
}

// NewArtifactResolver creates a resolver caching packages under cacheDir.
func NewArtifactResolver(cacheDir string) *ArtifactResolver {
	return &ArtifactResolver{CacheDir: cacheDir}
}

// CachePath is where the package for id lives once resolved.
func (r *ArtifactResolver) CachePath(id ItemId) string {
	return filepath.Join(r.CacheDir, id.String()+PackageExtension)
}

// Cached returns the cached package for id if one exists and carries the signature.
func (r *ArtifactResolver) Cached(id ItemId) (string, bool) {
	path := r.CachePath(id)
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return "", false
	}
	if err := checkFileSignature(path); err != nil {
		return "", false
	}
	return path, true
}

// Resolve locates or materializes the package for id from folder, which is either an
// install directory or a single container file. An up to date cached package is reused.
func (r *ArtifactResolver) Resolve(id ItemId, folder string) (string, error) {
	info, err := os.Stat(folder)
	if err != nil {
		return "", fmt.Errorf("stat install folder: %w", err)
	}

	source, isContainer := folder, !strings.EqualFold(filepath.Ext(folder), PackageExtension)
	if info.IsDir() {
		source, isContainer, err = findPackage(folder)
		if err != nil {
			return "", fmt.Errorf("%s: %w", folder, err)
		}
	}

	cached := r.CachePath(id)
	if r.isFresh(cached, source) {
		PushLogDebug(r, TagDownload, fmt.Sprintf("Reusing cached package %s", cached))
		return cached, nil
	}

	if isContainer {
		err = r.decompress(id, source, cached)
	} else {
		err = r.copyPackage(id, source, cached)
	}
	if err != nil {
		return "", err
	}
	return cached, nil
}

func (r *ArtifactResolver) isFresh(cached, source string) bool {
	cachedInfo, err := os.Stat(cached)
	if err != nil || !cachedInfo.Mode().IsRegular() {
		return false
	}
	sourceInfo, err := os.Stat(source)
	if err != nil {
		return false
	}
	if cachedInfo.ModTime().Before(sourceInfo.ModTime()) {
		return false
	}
	return checkFileSignature(cached) == nil
}

func (r *ArtifactResolver) copyPackage(id ItemId, source, cached string) error {
	f, err := os.Open(source)
	if err != nil {
		return fmt.Errorf("open package: %w", err)
	}
	defer f.Close()

	signed, err := requireSignature(f)
	if err != nil {
		return fmt.Errorf("%s: %w", source, err)
	}
	if _, err := writeFileAtomic(cached, GetStagingFilenameHash(id, source), signed); err != nil {
		return fmt.Errorf("cache package: %w", err)
	}
	return nil
}

func (r *ArtifactResolver) decompress(id ItemId, source, cached string) error {
	f, err := os.Open(source)
	if err != nil {
		return fmt.Errorf("open container: %w", err)
	}
	defer f.Close()

	br := bufio.NewReader(f)
	magic, _ := br.Peek(len(zstdFrameMagic))

	var decoded io.Reader
	if bytes.Equal(magic, zstdFrameMagic) {
		zReader, err := zstd.NewReader(br)
		if err != nil {
			return fmt.Errorf("failed to create zstd reader: %w", err)
		}
		defer zReader.Close()
		decoded = zReader
	} else {
		lReader, err := lzma.NewReader(br)
		if err != nil {
			return fmt.Errorf("failed to create lzma reader: %w", err)
		}
		decoded = lReader
	}

	signed, err := requireSignature(decoded)
	if err != nil {
		return fmt.Errorf("decompress %s: %w", source, err)
	}

	written, err := writeFileAtomic(cached, GetStagingFilenameHash(id, source), signed)
	if err != nil {
		return fmt.Errorf("decompress %s: %w", source, err)
	}

	PushLogInfo(r, TagDownload, fmt.Sprintf("Decompressed %s -> %s (%d bytes)", source, cached, written))
	return nil
}

func findPackage(dir string) (string, bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false, err
	}

	var files []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if strings.EqualFold(filepath.Ext(entry.Name()), PackageExtension) {
			return path, false, nil
		}
		files = append(files, path)
	}

	if len(files) == 1 {
		return files[0], true, nil
	}
	return "", false, ErrPackageNotFound
}

// requireSignature reads the first bytes of r and returns a reader yielding the whole
// stream again if they match PackageSignature.
func requireSignature(r io.Reader) (io.Reader, error) {
	head := make([]byte, len(PackageSignature))
	if _, err := io.ReadFull(r, head); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrBadSignature
		}
		return nil, err
	}
	if !bytes.Equal(head, PackageSignature) {
		return nil, ErrBadSignature
	}
	return io.MultiReader(bytes.NewReader(head), r), nil
}

func checkFileSignature(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = requireSignature(f)
	return err
}
