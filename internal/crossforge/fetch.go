package crossforge

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// Fetcher downloads package archives and detached signatures into the source
// cache. A cached archive is reused without touching the network; the trust
// policy decides how unsigned or badly signed cache entries are handled.
type Fetcher struct {
	cfg        *Config
	client     *http.Client
	mirror     *s3Mirror // nil unless S3 settings are configured
	mirrorNote sync.Once
}

// NewFetcher builds a Fetcher. The S3 mirror is attached only when the
// configuration carries credentials for it.
func NewFetcher(cfg *Config) *Fetcher {
	f := &Fetcher{
		cfg: cfg,
		client: &http.Client{
			Timeout: 300 * time.Second, // 5 min total timeout for large downloads
		},
	}
	if m, err := newS3Mirror(cfg); err == nil {
		f.mirror = m
	}
	return f
}

// applyMirror rewrites canonical GNU URLs to the configured mirror.
func (f *Fetcher) applyMirror(originalURL string) string {
	if f.cfg.MirrorURL != "" && strings.HasPrefix(originalURL, gnuOriginalURL) {
		return strings.Replace(originalURL, gnuOriginalURL, f.cfg.MirrorURL, 1)
	}
	return originalURL
}

// Fetch satisfies the cache for one package: signature first when requested
// and missing, then the archive itself. A present archive is treated as
// satisfied regardless of signature validity; under the warn policy a bad
// signature is reported and the pipeline continues.
func (f *Fetcher) Fetch(spec PackageSpec, verifier *Verifier) error {
	if err := os.MkdirAll(f.cfg.SourcesDir, 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory %s: %w", f.cfg.SourcesDir, err)
	}

	archivePath := filepath.Join(f.cfg.SourcesDir, spec.Archive)
	var sigPath string

	// Signature is fetched independently of archive presence so a cache
	// populated before signing support still gets verified.
	if spec.Signature != "" {
		sigPath = filepath.Join(f.cfg.SourcesDir, spec.Signature)
		if _, err := os.Stat(sigPath); os.IsNotExist(err) {
			if err := f.downloadFile(spec.URL+".sig", sigPath); err != nil {
				debugf("signature fetch failed for %s: %v\n", spec.Signature, err)
				sigPath = ""
			}
		}
	}

	if _, err := os.Stat(archivePath); err == nil {
		debugf("Already in cache: %s\n", archivePath)
		if err := f.checkCachedSum(archivePath); err != nil {
			return err
		}
		return f.verifyArchive(spec, archivePath, sigPath, verifier)
	}

	colArrow.Print("-> ")
	colSuccess.Printf("Fetching source: %s\n", spec.Archive)
	if err := f.downloadFile(spec.URL, archivePath); err != nil {
		return fmt.Errorf("failed to download %s: %w", spec.URL, err)
	}
	f.recordSum(archivePath)

	return f.verifyArchive(spec, archivePath, sigPath, verifier)
}

// verifyArchive applies the trust policy to the archive's detached
// signature. A mismatch is a normal result for the verifier; whether it stops
// the pipeline depends on the configured policy.
func (f *Fetcher) verifyArchive(spec PackageSpec, archivePath, sigPath string, verifier *Verifier) error {
	if spec.Signature == "" {
		return nil
	}
	if sigPath == "" || verifier == nil {
		if f.cfg.Trust == TrustStrict {
			return fmt.Errorf("cannot verify %s: signature or keyring unavailable", spec.Archive)
		}
		colArrow.Print("-> ")
		colWarn.Printf("Warning: cannot verify %s, continuing\n", spec.Archive)
		return nil
	}

	ok, err := verifier.Verify(archivePath, sigPath)
	if err != nil {
		return fmt.Errorf("signature check for %s: %w", spec.Archive, err)
	}
	if !ok {
		if f.cfg.Trust == TrustStrict {
			return fmt.Errorf("signature verification failed for %s", spec.Archive)
		}
		colArrow.Print("-> ")
		colWarn.Printf("Warning: signature verification FAILED for %s, continuing anyway\n", spec.Archive)
		return nil
	}
	colArrow.Print("-> ")
	colSuccess.Printf("Signature verified for %s\n", spec.Archive)
	return nil
}

// downloadFile downloads a URL into destPath. The transfer is guarded by a
// per-file flock so overlapping invocations never corrupt a cache entry.
// Download order: S3 mirror, curl, wget, then the native Go client.
func (f *Fetcher) downloadFile(originalURL, destPath string) error {
	finalURL := f.applyMirror(originalURL)
	if originalURL != finalURL {
		f.mirrorNote.Do(func() {
			colArrow.Print("-> ")
			colNote.Printf("Using GNU mirror: %s\n", f.cfg.MirrorURL)
		})
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("failed to create parent directory for %s: %w", destPath, err)
	}

	lockPath := destPath + ".lock"
	lFile, err := os.Create(lockPath)
	if err != nil {
		return fmt.Errorf("failed to create lock file: %w", err)
	}
	defer lFile.Close()

	if err := unix.Flock(int(lFile.Fd()), unix.LOCK_EX); err != nil {
		return fmt.Errorf("failed to acquire lock for download: %w", err)
	}
	defer unix.Flock(int(lFile.Fd()), unix.LOCK_UN)

	// Double check: the file may have appeared while we waited for the lock.
	if _, err := os.Stat(destPath); err == nil {
		debugf("File %s appeared after acquiring lock, skipping download.\n", destPath)
		_ = os.Remove(lockPath)
		return nil
	}
	defer func() {
		if _, err := os.Stat(destPath); err == nil {
			_ = os.Remove(lockPath)
		}
	}()

	debugf("Downloading %s -> %s\n", finalURL, destPath)

	// --- Primary choice: S3 mirror when configured ---
	if f.mirror != nil {
		if err := f.mirror.Download(filepath.Base(destPath), destPath); err == nil {
			debugf("Download successful from S3 mirror.\n")
			return nil
		}
		debugf("S3 mirror miss, falling back to upstream\n")
	}

	// --- curl ---
	if _, err := exec.LookPath("curl"); err == nil {
		cmd := exec.Command("curl", "-L", "--fail", "-sS", "-o", destPath, finalURL)
		cmd.Stdout = io.Discard
		cmd.Stderr = io.Discard
		if err := cmd.Run(); err == nil {
			debugf("Download successful with curl.\n")
			return nil
		}
		debugf("curl failed, falling back to wget\n")
	} else {
		debugf("curl not found, trying wget\n")
	}

	// --- wget ---
	if _, err := exec.LookPath("wget"); err == nil {
		cmd := exec.Command("wget", "-q", "-O", destPath, finalURL)
		cmd.Stdout = io.Discard
		cmd.Stderr = io.Discard
		if err := cmd.Run(); err == nil {
			debugf("Download successful with wget.\n")
			return nil
		}
		debugf("wget failed, falling back to native Go HTTP client\n")
	} else {
		debugf("wget not found, using native Go HTTP client\n")
	}

	// --- native Go client ---
	if err := f.nativeDownload(finalURL, destPath); err != nil {
		// A failed transfer must not poison the cache: wget creates the
		// destination even on HTTP errors, and a dropped connection leaves
		// a truncated file a later run would take for a cache hit.
		_ = os.Remove(destPath)
		_ = os.Remove(lockPath)
		return err
	}
	return nil
}

func (f *Fetcher) nativeDownload(url, destPath string) error {
	resp, err := f.client.Get(url)
	if err != nil {
		return fmt.Errorf("native http get failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed with status: %s", resp.Status)
	}

	out, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create destination file %s: %w", destPath, err)
	}
	defer out.Close()

	var dest io.Writer = out
	if term.IsTerminal(int(os.Stdout.Fd())) {
		bar := progressbar.DefaultBytes(resp.ContentLength, filepath.Base(destPath))
		dest = io.MultiWriter(out, bar)
	}

	if _, err := io.Copy(dest, resp.Body); err != nil {
		os.Remove(destPath)
		return fmt.Errorf("failed to write to destination file: %w", err)
	}

	debugf("Download successful with native Go HTTP client.\n")
	return nil
}

// recordSum writes the archive's BLAKE3 sum next to it so later runs can
// detect bit-rot in the cache. Best effort.
func (f *Fetcher) recordSum(path string) {
	sum, err := hashFile(path)
	if err != nil {
		debugf("failed to hash %s: %v\n", path, err)
		return
	}
	_ = os.WriteFile(path+".b3", []byte(sum+"\n"), 0o644)
}

// checkCachedSum re-verifies a cached archive against its recorded BLAKE3
// sum. A missing sum file is tolerated (caches predating sum support);
// a mismatch follows the trust policy.
func (f *Fetcher) checkCachedSum(path string) error {
	want, err := os.ReadFile(path + ".b3")
	if err != nil {
		return nil
	}
	got, err := hashFile(path)
	if err != nil {
		return fmt.Errorf("failed to hash cached archive %s: %w", path, err)
	}
	if got != strings.TrimSpace(string(want)) {
		if f.cfg.Trust == TrustStrict {
			return fmt.Errorf("cached archive %s does not match its recorded checksum", path)
		}
		colArrow.Print("-> ")
		colWarn.Printf("Warning: cached archive %s fails its checksum, continuing\n", filepath.Base(path))
	}
	return nil
}
