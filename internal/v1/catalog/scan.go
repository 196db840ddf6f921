package catalog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/talespin-gg/talespin-server/internal/v1/logging"
)

func hasSupportedExtension(path string) bool {
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(path), ".")) {
	case "jpg", "jpeg", "png", "webp":
		return true
	}
	return false
}

func sniffSupportedExtensionlessImage(ctx context.Context, path string) bool {
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		logging.Warn(ctx, "Failed to sniff extensionless image candidate",
			zap.String("path", path), zap.Error(err))
		return false
	}

	switch mtype.String() {
	case "image/jpeg", "image/png", "image/webp":
		return true
	}
	return false
}

func isSupportedImage(ctx context.Context, path string, sniffExtensionless bool) bool {
	if hasSupportedExtension(path) {
		return true
	}
	return sniffExtensionless &&
		filepath.Ext(path) == "" &&
		sniffSupportedExtensionlessImage(ctx, path)
}

// collectImageFiles walks root breadth-first, following symlinks, and returns
// the sorted list of supported image files. Directory cycles are broken by
// tracking resolved paths. With strictRoot an unreadable root is an error;
// otherwise unreadable directories are logged and skipped.
func collectImageFiles(ctx context.Context, root string, strictRoot bool, sniffExtensionless bool) ([]string, error) {
	var found []string
	queue := []string{root}
	visited := make(map[string]struct{})

	for len(queue) > 0 {
		scanDir := queue[0]
		queue = queue[1:]

		resolved, err := filepath.EvalSymlinks(scanDir)
		if err != nil {
			if strictRoot && scanDir == root {
				return nil, fmt.Errorf("unable to resolve image directory %s: %w", scanDir, err)
			}
			logging.Warn(ctx, "Unable to resolve image directory",
				zap.String("dir", scanDir), zap.Error(err))
			continue
		}

		if _, seen := visited[resolved]; seen {
			continue
		}
		visited[resolved] = struct{}{}

		entries, err := os.ReadDir(resolved)
		if err != nil {
			if strictRoot && scanDir == root {
				return nil, fmt.Errorf("unable to read image directory %s: %w", scanDir, err)
			}
			logging.Warn(ctx, "Unable to read image directory",
				zap.String("dir", scanDir), zap.Error(err))
			continue
		}

		for _, entry := range entries {
			entryPath := filepath.Join(resolved, entry.Name())

			resolvedEntry, err := filepath.EvalSymlinks(entryPath)
			if err != nil {
				logging.Warn(ctx, "Unable to resolve entry",
					zap.String("path", entryPath), zap.Error(err))
				continue
			}

			info, err := os.Stat(resolvedEntry)
			if err != nil {
				logging.Warn(ctx, "Unable to stat entry",
					zap.String("path", resolvedEntry), zap.Error(err))
				continue
			}

			if info.IsDir() {
				queue = append(queue, resolvedEntry)
				continue
			}

			if info.Mode().IsRegular() && isSupportedImage(ctx, resolvedEntry, sniffExtensionless) {
				found = append(found, resolvedEntry)
			}
		}
	}

	sort.Strings(found)
	return found, nil
}
