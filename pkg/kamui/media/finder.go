package media

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// File is a media file found on disk.
type File struct {
	Path    string
	Name    string
	Size    int64
	ModTime time.Time
}

// Kind returns the file's media kind.
func (f File) Kind() Kind { return KindOf(f.Name) }

// Finder lists media files in a single directory.
type Finder struct {
	dir    string
	logger *slog.Logger
	now    func() time.Time
}

// NewFinder creates a finder for dir. An empty dir means the current
// directory.
func NewFinder(dir string, logger *slog.Logger) *Finder {
	if logger == nil {
		logger = slog.Default()
	}
	if dir == "" {
		dir = "."
	}
	return &Finder{
		dir:    dir,
		logger: logger.With("component", "media"),
		now:    time.Now,
	}
}

// Dir returns the directory being searched.
func (f *Finder) Dir() string { return f.dir }

// Recent returns media files modified within window, newest first. A window
// of zero or less disables the age filter. Subdirectories are not searched.
func (f *Finder) Recent(window time.Duration) ([]File, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", f.dir, err)
	}

	var cutoff time.Time
	if window > 0 {
		cutoff = f.now().Add(-window)
	}

	var files []File
	for _, e := range entries {
		if e.IsDir() || !IsMedia(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			f.logger.Warn("skipping file", "name", e.Name(), "error", err)
			continue
		}
		if !info.Mode().IsRegular() {
			continue
		}
		if !cutoff.IsZero() && !info.ModTime().After(cutoff) {
			continue
		}
		files = append(files, File{
			Path:    filepath.Join(f.dir, e.Name()),
			Name:    e.Name(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}

	sort.SliceStable(files, func(i, j int) bool {
		return files[i].ModTime.After(files[j].ModTime)
	})
	return files, nil
}

// Select keeps files no larger than maxSize, up to maxCount of them. Zero
// limits are ignored.
func Select(files []File, maxSize int64, maxCount int) []File {
	var out []File
	for _, file := range files {
		if maxSize > 0 && file.Size > maxSize {
			continue
		}
		out = append(out, file)
		if maxCount > 0 && len(out) == maxCount {
			break
		}
	}
	return out
}

// Delete removes files, skipping ones that are already gone. It returns the
// number removed and the joined errors of the rest.
func Delete(files []File, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var removed int
	var errs []error
	for _, file := range files {
		err := os.Remove(file.Path)
		switch {
		case err == nil:
			removed++
			logger.Debug("deleted delivered file", "name", file.Name)
		case errors.Is(err, fs.ErrNotExist):
			logger.Debug("file already gone", "name", file.Name)
		default:
			errs = append(errs, err)
			logger.Warn("failed to delete file", "name", file.Name, "error", err)
		}
	}
	return removed, errors.Join(errs...)
}

// Summary describes a batch of files.
type Summary struct {
	Count     int
	TotalSize int64

	// Icons holds one icon per distinct kind, in first-seen order.
	Icons string
}

// Summarize builds a Summary for files.
func Summarize(files []File) Summary {
	s := Summary{Count: len(files)}
	seen := make(map[Kind]bool)
	var icons strings.Builder
	for _, file := range files {
		s.TotalSize += file.Size
		k := file.Kind()
		if !seen[k] {
			seen[k] = true
			icons.WriteString(k.Icon())
		}
	}
	s.Icons = icons.String()
	return s
}

// Caption is the message attached to an upload of files.
func (s Summary) Caption() string {
	return fmt.Sprintf("%s Generated files (%d):", s.Icons, s.Count)
}

// FormatSize renders a byte count for humans, e.g. "1.5 MiB".
func FormatSize(n int64) string {
	if n <= 0 {
		return "0 B"
	}
	return humanize.IBytes(uint64(n))
}
