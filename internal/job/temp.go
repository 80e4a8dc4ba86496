package job

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// TempName builds prefix_<unix ms>_<8 hex>.ext under dir.
func TempName(dir, prefix, ext string, now time.Time) string {
	if ext != "" && ext[0] != '.' {
		ext = "." + ext
	}
	name := fmt.Sprintf("%s_%d_%s%s", prefix, now.UnixMilli(), uuid.NewString()[:8], ext)
	return filepath.Join(dir, name)
}

// orphanPatterns match artifacts left by jobs and by the normalizer and
// office converter when the process died mid-run.
var orphanPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^[a-z]+_\d{13}_[0-9a-f]{8}\.(pdf|mp3|mp4|tmp)$`),
	regexp.MustCompile(`^normalize_\d+\.tmp$`),
	regexp.MustCompile(`^soffice_\d+$`),
}

func isOrphan(name string) bool {
	for _, re := range orphanPatterns {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}

// SweepOrphans removes job artifacts in dir older than maxAge and returns
// how many entries were removed. Unrelated files are never touched.
func SweepOrphans(dir string, maxAge time.Duration, logger *slog.Logger) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read %s: %w", dir, err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		if !isOrphan(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if err := os.RemoveAll(path); err != nil {
			logger.Warn("orphan sweep failed", "path", path, "err", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		logger.Info("orphaned artifacts removed", "dir", dir, "count", removed)
	}
	return removed, nil
}
