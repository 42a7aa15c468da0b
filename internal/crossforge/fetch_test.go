package crossforge

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFetchConfig(t *testing.T) *Config {
	t.Helper()
	return NewConfig(map[string]string{"CROSSFORGE_ROOT": t.TempDir()})
}

func TestApplyMirror(t *testing.T) {
	cfg := testFetchConfig(t)
	cfg.MirrorURL = "https://mirror.example/gnu"
	f := NewFetcher(cfg)

	assert.Equal(t,
		"https://mirror.example/gnu/binutils/binutils-2.41.tar.xz",
		f.applyMirror(gnuOriginalURL+"/binutils/binutils-2.41.tar.xz"))

	// Non-GNU URLs pass through untouched.
	sourceware := "https://sourceware.org/pub/newlib/newlib-4.3.0.tar.gz"
	assert.Equal(t, sourceware, f.applyMirror(sourceware))
}

func TestFetchUsesCacheWithoutNetwork(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte("archive bytes"))
	}))
	defer srv.Close()

	cfg := testFetchConfig(t)
	f := NewFetcher(cfg)

	spec := PackageSpec{
		Name:    "newlib",
		Version: "4.3.0",
		Role:    RoleRuntimeLibrary,
		URL:     srv.URL + "/newlib-4.3.0.tar.gz",
		Archive: "newlib-4.3.0.tar.gz",
		// unsigned, like the real thing
	}

	require.NoError(t, os.MkdirAll(cfg.SourcesDir, 0o755))
	cached := filepath.Join(cfg.SourcesDir, spec.Archive)
	require.NoError(t, os.WriteFile(cached, []byte("archive bytes"), 0o644))

	require.NoError(t, f.Fetch(spec, nil))
	assert.Equal(t, int64(0), hits.Load(), "cached archive must not touch the network")
}

func TestFetchDownloadsArchiveAndRecordsSum(t *testing.T) {
	content := []byte("fresh archive bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(content)
	}))
	defer srv.Close()

	cfg := testFetchConfig(t)
	f := NewFetcher(cfg)

	spec := PackageSpec{
		Name:    "newlib",
		Version: "4.3.0",
		Role:    RoleRuntimeLibrary,
		URL:     srv.URL + "/newlib-4.3.0.tar.gz",
		Archive: "newlib-4.3.0.tar.gz",
	}

	require.NoError(t, f.Fetch(spec, nil))

	archivePath := filepath.Join(cfg.SourcesDir, spec.Archive)
	got, err := os.ReadFile(archivePath)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	// BLAKE3 sidecar for later cache validation.
	sum, err := os.ReadFile(archivePath + ".b3")
	require.NoError(t, err)
	assert.Equal(t, hashString(string(content))+"\n", string(sum))

	// The download lock is cleaned up on success.
	_, err = os.Stat(archivePath + ".lock")
	assert.True(t, os.IsNotExist(err))
}

func TestFetchFailedDownloadLeavesNoCacheEntry(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	cfg := testFetchConfig(t)
	f := NewFetcher(cfg)

	spec := PackageSpec{
		Name:    "newlib",
		Version: "4.3.0",
		Role:    RoleRuntimeLibrary,
		URL:     srv.URL + "/newlib-4.3.0.tar.gz",
		Archive: "newlib-4.3.0.tar.gz",
	}

	require.Error(t, f.Fetch(spec, nil))

	// Neither a partial archive nor a stale lock may survive the failure.
	archivePath := filepath.Join(cfg.SourcesDir, spec.Archive)
	_, err := os.Stat(archivePath)
	assert.True(t, os.IsNotExist(err), "failed download must not leave a cache entry")
	_, err = os.Stat(archivePath + ".lock")
	assert.True(t, os.IsNotExist(err))

	// The next run goes back to the network instead of accepting debris as
	// a cache hit.
	before := hits.Load()
	require.Error(t, f.Fetch(spec, nil))
	assert.Greater(t, hits.Load(), before)
}

func TestVerifyArchivePolicies(t *testing.T) {
	dir := t.TempDir()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	payload := []byte("signed payload")
	archivePath := filepath.Join(dir, "binutils-2.41.tar.xz")
	require.NoError(t, os.WriteFile(archivePath, payload, 0o644))

	// Signature over different bytes: verification fails.
	badSig := ed25519.Sign(priv, []byte("something else"))
	sigPath := archivePath + ".sig"
	require.NoError(t, os.WriteFile(sigPath, []byte(hex.EncodeToString(badSig)), 0o644))

	_, keyringPath := newTestKeyring(t, dir)
	verifier, err := LoadKeyring(keyringPath)
	require.NoError(t, err)

	spec := PackageSpec{
		Name:      "binutils",
		Role:      RoleBinutils,
		Archive:   filepath.Base(archivePath),
		Signature: filepath.Base(sigPath),
	}

	cfg := testFetchConfig(t)
	cfg.Trust = TrustWarn
	f := NewFetcher(cfg)
	assert.NoError(t, f.verifyArchive(spec, archivePath, sigPath, verifier),
		"warn policy continues past a bad signature")

	cfg.Trust = TrustStrict
	assert.Error(t, f.verifyArchive(spec, archivePath, sigPath, verifier),
		"strict policy aborts on a bad signature")
}

func TestVerifyArchiveMissingSignature(t *testing.T) {
	cfg := testFetchConfig(t)
	f := NewFetcher(cfg)

	spec := PackageSpec{
		Name:      "binutils",
		Role:      RoleBinutils,
		Archive:   "binutils-2.41.tar.xz",
		Signature: "binutils-2.41.tar.xz.sig",
	}

	// Warn policy: missing signature or keyring is reported, not fatal.
	assert.NoError(t, f.verifyArchive(spec, "", "", nil))

	cfg.Trust = TrustStrict
	assert.Error(t, f.verifyArchive(spec, "", "", nil))

	// Unsigned packages never trigger the policy at all.
	unsigned := PackageSpec{Name: "newlib", Role: RoleRuntimeLibrary, Archive: "newlib-4.3.0.tar.gz"}
	assert.NoError(t, f.verifyArchive(unsigned, "", "", nil))
}

func TestCheckCachedSum(t *testing.T) {
	cfg := testFetchConfig(t)
	f := NewFetcher(cfg)

	dir := t.TempDir()
	path := filepath.Join(dir, "pkg.tar.xz")
	require.NoError(t, os.WriteFile(path, []byte("bytes"), 0o644))

	// No recorded sum: tolerated (pre-sum caches).
	assert.NoError(t, f.checkCachedSum(path))

	// Matching sum.
	f.recordSum(path)
	assert.NoError(t, f.checkCachedSum(path))

	// Bit-rot: mismatch warns under the default policy, fails under strict.
	require.NoError(t, os.WriteFile(path, []byte("rotted"), 0o644))
	assert.NoError(t, f.checkCachedSum(path))

	cfg.Trust = TrustStrict
	assert.Error(t, f.checkCachedSum(path))
}
