package crossforge

import (
	"archive/tar"
	"compress/bzip2"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	"github.com/ulikunitz/xz"
	"github.com/ulikunitz/xz/lzma"
)

// extractFunc unpacks archivePath with the working directory already set to
// the extraction target. Paths it writes are relative.
type extractFunc func(archivePath string) error

// lookupExtractor dispatches on the archive's filename suffix,
// case-insensitively. The double-barreled tar suffixes must be checked before
// their single-compression counterparts.
func lookupExtractor(name string) (extractFunc, bool) {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return func(p string) error { return extractTarWith(p, newGzipReader) }, true
	case strings.HasSuffix(lower, ".tar.bz2"), strings.HasSuffix(lower, ".tbz2"):
		return func(p string) error { return extractTarWith(p, newBzip2Reader) }, true
	case strings.HasSuffix(lower, ".tar.xz"), strings.HasSuffix(lower, ".txz"):
		return func(p string) error { return extractTarWith(p, newXzReader) }, true
	case strings.HasSuffix(lower, ".tar.zst"):
		return func(p string) error { return extractTarWith(p, newZstdReader) }, true
	case strings.HasSuffix(lower, ".tar.lzma"):
		return func(p string) error { return extractTarWith(p, newLzmaReader) }, true
	case strings.HasSuffix(lower, ".tar"):
		return func(p string) error { return extractTarWith(p, newPlainReader) }, true
	case strings.HasSuffix(lower, ".zip"):
		return extractZip, true
	case strings.HasSuffix(lower, ".gz"):
		return func(p string) error { return extractSingle(p, ".gz", newGzipReader) }, true
	case strings.HasSuffix(lower, ".bz2"):
		return func(p string) error { return extractSingle(p, ".bz2", newBzip2Reader) }, true
	case strings.HasSuffix(lower, ".xz"):
		return func(p string) error { return extractSingle(p, ".xz", newXzReader) }, true
	case strings.HasSuffix(lower, ".lzma"):
		return func(p string) error { return extractSingle(p, ".lzma", newLzmaReader) }, true
	case strings.HasSuffix(lower, ".7z"):
		return func(p string) error { return extractExternal("7z", "x", "-y", p) }, true
	case strings.HasSuffix(lower, ".rar"):
		return func(p string) error { return extractExternal("unrar", "x", "-o+", p) }, true
	case strings.HasSuffix(lower, ".z"):
		return extractCompress, true
	}
	return nil, false
}

// Extract unpacks archivePath into targetDir. The process working directory
// is switched to targetDir for the duration of the extraction and restored
// afterwards regardless of the outcome. No cleanup of a partial extraction is
// attempted on failure.
func Extract(archivePath, targetDir string) error {
	fn, ok := lookupExtractor(filepath.Base(archivePath))
	if !ok {
		return fmt.Errorf("%w: %s", errUnsupportedFormat, filepath.Base(archivePath))
	}

	absArchive, err := filepath.Abs(archivePath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return fmt.Errorf("failed to create extraction target %s: %w", targetDir, err)
	}

	prevDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to read working directory: %w", err)
	}
	if err := os.Chdir(targetDir); err != nil {
		return fmt.Errorf("failed to enter %s: %w", targetDir, err)
	}
	defer func() {
		if err := os.Chdir(prevDir); err != nil {
			colWarn.Printf("Warning: failed to restore working directory %s: %v\n", prevDir, err)
		}
	}()

	return fn(absArchive)
}

// decompressors over the raw archive stream

func newPlainReader(f *os.File) (io.Reader, error) { return f, nil }

func newGzipReader(f *os.File) (io.Reader, error) { return pgzip.NewReader(f) }

func newBzip2Reader(f *os.File) (io.Reader, error) { return bzip2.NewReader(f), nil }

func newXzReader(f *os.File) (io.Reader, error) { return xz.NewReader(f) }

func newZstdReader(f *os.File) (io.Reader, error) { return zstd.NewReader(f) }

func newLzmaReader(f *os.File) (io.Reader, error) { return lzma.NewReader(f) }

// extractTarWith walks a tar stream into the current directory, stripping the
// archive's single top-level directory when it has one (GNU release tarballs
// always do) while skipping PAX header entries.
func extractTarWith(archivePath string, open func(*os.File) (io.Reader, error)) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive %s: %w", archivePath, err)
	}
	defer f.Close()

	r, err := open(f)
	if err != nil {
		return fmt.Errorf("failed to create decompressor for %s: %w", archivePath, err)
	}
	if c, ok := r.(io.Closer); ok {
		defer c.Close()
	}
	if zr, ok := r.(*zstd.Decoder); ok {
		defer zr.Close()
	}

	tr := tar.NewReader(r)

	// Track the prefix for stripping (e.g. "gcc-13.2.0/")
	var prefix string
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("error reading tar header in %s: %w", archivePath, err)
		}

		if hdr.Typeflag == tar.TypeXHeader || hdr.Typeflag == tar.TypeXGlobalHeader {
			if _, err := io.Copy(io.Discard, tr); err != nil {
				return fmt.Errorf("error skipping extended header data in %s: %w", archivePath, err)
			}
			continue
		}

		if prefix == "" && (hdr.Typeflag == tar.TypeDir || hdr.Typeflag == tar.TypeReg) {
			if slashIdx := strings.Index(hdr.Name, "/"); slashIdx != -1 {
				prefix = hdr.Name[:slashIdx+1]
				debugf("Detected tar prefix for stripping: %s\n", prefix)
			}
		}

		targetName := hdr.Name
		if prefix != "" && strings.HasPrefix(targetName, prefix) {
			targetName = strings.TrimPrefix(targetName, prefix)
		}
		if targetName == "" {
			continue
		}
		targetName = filepath.Clean(targetName)
		if strings.HasPrefix(targetName, "..") {
			return fmt.Errorf("illegal path in archive: %s", hdr.Name)
		}

		if err := os.MkdirAll(filepath.Dir(targetName), 0o755); err != nil {
			return fmt.Errorf("failed to create parent dir for %s: %w", targetName, err)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(targetName, os.FileMode(hdr.Mode)); err != nil {
				return fmt.Errorf("failed to create dir %s: %w", targetName, err)
			}
		case tar.TypeReg:
			outFile, err := os.OpenFile(targetName, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode))
			if err != nil {
				return fmt.Errorf("failed to create file %s: %w", targetName, err)
			}
			if _, err := io.Copy(outFile, tr); err != nil {
				outFile.Close()
				return fmt.Errorf("failed to write file %s: %w", targetName, err)
			}
			outFile.Close()
			if err := os.Chtimes(targetName, hdr.AccessTime, hdr.ModTime); err != nil {
				debugf("failed to set times for %s: %v\n", targetName, err)
			}
		case tar.TypeSymlink:
			_ = os.Remove(targetName)
			if err := os.Symlink(hdr.Linkname, targetName); err != nil && !os.IsExist(err) {
				return fmt.Errorf("failed to create symlink %s -> %s: %w", targetName, hdr.Linkname, err)
			}
		default:
			debugf("Skipping unsupported tar entry type %c: %s\n", hdr.Typeflag, hdr.Name)
		}
	}

	if prefix == "" {
		debugf("No top-level directory prefix found in %s; extracted without stripping\n", archivePath)
	}
	return nil
}

// extractZip unpacks a zip archive into the current directory.
func extractZip(archivePath string) error {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return err
	}
	defer r.Close()

	dest, err := filepath.Abs(".")
	if err != nil {
		return err
	}

	for _, f := range r.File {
		fpath := filepath.Join(dest, f.Name)

		// Guard against zip-slip path traversal.
		if !strings.HasPrefix(fpath, dest+string(os.PathSeparator)) {
			return fmt.Errorf("illegal file path in archive: %s", f.Name)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(fpath, os.ModePerm); err != nil {
				return err
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(fpath), os.ModePerm); err != nil {
			return err
		}

		outFile, err := os.OpenFile(fpath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode())
		if err != nil {
			return err
		}
		rc, err := f.Open()
		if err != nil {
			outFile.Close()
			return err
		}
		_, err = io.Copy(outFile, rc)
		outFile.Close()
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// extractSingle decompresses a single-file archive (foo.gz -> foo) into the
// current directory.
func extractSingle(archivePath, suffix string, open func(*os.File) (io.Reader, error)) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive %s: %w", archivePath, err)
	}
	defer f.Close()

	r, err := open(f)
	if err != nil {
		return fmt.Errorf("failed to create decompressor for %s: %w", archivePath, err)
	}
	if c, ok := r.(io.Closer); ok {
		defer c.Close()
	}

	base := filepath.Base(archivePath)
	outName := strings.TrimSuffix(base, suffix)
	if outName == base || outName == "" {
		outName = base + ".out"
	}

	out, err := os.Create(outName)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, r)
	return err
}

// extractExternal shells out for formats without a pure-Go reader (7z, rar).
// The tool unpacks into the current directory.
func extractExternal(tool string, args ...string) error {
	if _, err := exec.LookPath(tool); err != nil {
		return fmt.Errorf("%s not found in PATH: %w", tool, err)
	}
	cmd := exec.Command(tool, args...)
	cmd.Stdout = io.Discard
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s failed: %w", tool, err)
	}
	return nil
}

// extractCompress handles old .Z compress archives via gzip, which can read
// the LZW format.
func extractCompress(archivePath string) error {
	base := filepath.Base(archivePath)
	outName := strings.TrimSuffix(base, filepath.Ext(base))
	if _, err := exec.LookPath("gzip"); err != nil {
		return fmt.Errorf("gzip not found in PATH: %w", err)
	}
	cmd := exec.Command("sh", "-c",
		fmt.Sprintf("gzip -dc %q > %q", archivePath, outName))
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("gzip -dc failed: %w", err)
	}
	return nil
}
