package crossforge

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ulikunitz/xz"
)

// LogSet manages the rotated per-package, per-phase build logs under the log
// directory. For a history depth of N the newest N+1 logs survive: the
// current file plus rotated suffixes .0 (newest) through .N-1 (oldest).
type LogSet struct {
	Dir     string
	History int
}

// NewLogSet returns a LogSet rooted at dir keeping history rotated logs.
func NewLogSet(dir string, history int) *LogSet {
	if history < 1 {
		history = 1
	}
	return &LogSet{Dir: dir, History: history}
}

func (ls *LogSet) logPath(pkg, phase string) string {
	return filepath.Join(ls.Dir, fmt.Sprintf("%s-%s.log", pkg, phase))
}

// rotate shifts existing logs one slot towards the oldest suffix, discarding
// anything beyond the history depth. Only renames are performed, so a file
// that is still being written is moved aside, never truncated in place.
func (ls *LogSet) rotate(pkg, phase string) error {
	current := ls.logPath(pkg, phase)
	if _, err := os.Stat(current); os.IsNotExist(err) {
		return nil
	}

	oldest := fmt.Sprintf("%s.%d", current, ls.History-1)
	if _, err := os.Stat(oldest); err == nil {
		if err := os.Remove(oldest); err != nil {
			return fmt.Errorf("failed to discard oldest log %s: %w", oldest, err)
		}
	}
	for i := ls.History - 2; i >= 0; i-- {
		from := fmt.Sprintf("%s.%d", current, i)
		to := fmt.Sprintf("%s.%d", current, i+1)
		if _, err := os.Stat(from); err == nil {
			if err := os.Rename(from, to); err != nil {
				return fmt.Errorf("failed to rotate %s: %w", from, err)
			}
		}
	}
	return os.Rename(current, current+".0")
}

// Open rotates any previous log for the package/phase pair and opens a fresh
// current log for writing.
func (ls *LogSet) Open(pkg, phase string) (*os.File, error) {
	if err := os.MkdirAll(ls.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory %s: %w", ls.Dir, err)
	}
	if err := ls.rotate(pkg, phase); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(ls.logPath(pkg, phase), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return f, nil
}

// List returns the current and rotated log files for a package/phase pair,
// newest first.
func (ls *LogSet) List(pkg, phase string) []string {
	var paths []string
	current := ls.logPath(pkg, phase)
	if _, err := os.Stat(current); err == nil {
		paths = append(paths, current)
	}
	for i := 0; i < ls.History; i++ {
		p := fmt.Sprintf("%s.%d", current, i)
		if _, err := os.Stat(p); err == nil {
			paths = append(paths, p)
		}
	}
	return paths
}

// Scan returns every log file under the directory, rotated copies included,
// optionally narrowed by package and phase. Exported .xz copies are skipped.
func (ls *LogSet) Scan(pkg, phase string) ([]string, error) {
	if pkg == "" {
		pkg = "*"
	}
	if phase == "" {
		phase = "*"
	}
	pattern := filepath.Join(ls.Dir, fmt.Sprintf("%s-%s.log*", pkg, phase))
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, m := range matches {
		if strings.HasSuffix(m, ".xz") {
			continue
		}
		paths = append(paths, m)
	}
	return paths, nil
}

// Export writes an xz-compressed copy of the log file next to the original,
// returning the written path.
func (ls *LogSet) Export(logPath string) (string, error) {
	src, err := os.Open(logPath)
	if err != nil {
		return "", fmt.Errorf("no log at %s: %w", logPath, err)
	}
	defer src.Close()

	destPath := logPath + ".xz"
	dest, err := os.Create(destPath)
	if err != nil {
		return "", err
	}
	defer dest.Close()

	xzWriter, err := xz.NewWriter(dest)
	if err != nil {
		return "", err
	}
	defer xzWriter.Close()

	if _, err := io.Copy(xzWriter, src); err != nil {
		return "", err
	}
	return destPath, nil
}
