package source

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/franz/library-dedup/internal/catalog"
	"github.com/franz/library-dedup/internal/util"
)

// TrashDirName is where deleted files are parked instead of being
// unlinked. Walks skip it so trashed files never rejoin the catalog.
const TrashDirName = ".dedup-trash"

// AudioExtensions are the supported audio file extensions
var AudioExtensions = []string{
	".mp3",
	".flac",
	".m4a",
	".mp4",
	".aac",
	".wav",
	".aiff",
	".aif",
}

// FilesystemAdapter walks a library root and soft-deletes files into a
// trash directory under it.
type FilesystemAdapter struct {
	root       string
	extensions map[string]bool
}

// FilesystemConfig holds filesystem adapter configuration
type FilesystemConfig struct {
	Root           string
	AdditionalExts []string
}

// NewFilesystem creates a filesystem adapter rooted at cfg.Root
func NewFilesystem(cfg *FilesystemConfig) *FilesystemAdapter {
	extMap := make(map[string]bool)
	for _, ext := range AudioExtensions {
		extMap[strings.ToLower(ext)] = true
	}
	for _, ext := range cfg.AdditionalExts {
		extMap[strings.ToLower(ext)] = true
	}

	return &FilesystemAdapter{
		root:       cfg.Root,
		extensions: extMap,
	}
}

func (a *FilesystemAdapter) Store() catalog.Store {
	return catalog.StoreFilesystem
}

// List walks the library root and returns every audio file as an item.
// Identity is the absolute path. WalkDir visits entries in lexical order,
// so repeated runs over an unchanged tree list identically.
func (a *FilesystemAdapter) List(ctx context.Context) ([]*catalog.Item, error) {
	var items []*catalog.Item

	err := filepath.WalkDir(a.root, func(path string, d fs.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err != nil {
			util.WarnLog("Error accessing path %s: %v", path, err)
			return nil // Continue walking
		}

		if d.IsDir() {
			if d.Name() == TrashDirName {
				return filepath.SkipDir
			}
			return nil
		}

		if !a.isAudioFile(path) {
			return nil
		}

		size, mtime, err := util.GetFileMetadata(path)
		if err != nil {
			util.WarnLog("Failed to stat %s: %v", path, err)
			return nil
		}

		items = append(items, &catalog.Item{
			Store:        catalog.StoreFilesystem,
			Identity:     path,
			ResolvedPath: path,
			Format:       catalog.FormatFromPath(path),
			SizeBytes:    size,
			MtimeUnix:    mtime,
			Status:       catalog.StatusDiscovered,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk failed: %w", err)
	}

	return items, nil
}

// DeleteFile soft-deletes by moving the file into the trash directory,
// preserving its path relative to the root so restores are unambiguous.
// Returns the bytes freed from the live tree. Deleting a file that is
// already gone is not an error.
func (a *FilesystemAdapter) DeleteFile(ctx context.Context, path string) (int64, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		util.DebugLog("File already gone: %s", path)
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	rel, err := filepath.Rel(a.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return 0, fmt.Errorf("refusing to delete outside library root: %s", path)
	}

	trashPath := filepath.Join(a.root, TrashDirName, rel)
	if err := util.RetryableMkdirAll(ctx, filepath.Dir(trashPath), 0755, nil); err != nil {
		return 0, fmt.Errorf("failed to create trash directory: %w", err)
	}

	// A second copy of the same relative path may already sit in the
	// trash from an earlier run
	if _, err := os.Stat(trashPath); err == nil {
		trashPath = uniqueTrashPath(trashPath)
	}

	if err := util.RetryableRename(ctx, path, trashPath, nil); err != nil {
		return 0, fmt.Errorf("failed to move %s to trash: %w", path, err)
	}

	util.DebugLog("Trashed: %s -> %s", path, trashPath)
	return info.Size(), nil
}

func uniqueTrashPath(path string) string {
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s.%d%s", base, i, ext)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}

func (a *FilesystemAdapter) isAudioFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return a.extensions[ext]
}
