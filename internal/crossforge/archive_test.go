package crossforge

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTarGz builds a gzipped tarball from name -> content pairs, in order.
func writeTarGz(t *testing.T, path string, entries []struct {
	name    string
	content string
	dir     bool
}) {
	t.Helper()

	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)
	for _, e := range entries {
		hdr := &tar.Header{Name: e.name, Mode: 0o644}
		if e.dir {
			hdr.Typeflag = tar.TypeDir
			hdr.Mode = 0o755
		} else {
			hdr.Typeflag = tar.TypeReg
			hdr.Size = int64(len(e.content))
		}
		require.NoError(t, tw.WriteHeader(hdr))
		if !e.dir {
			_, err := tw.Write([]byte(e.content))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gw.Close())
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

func TestLookupExtractor(t *testing.T) {
	supported := []string{
		"pkg-1.0.tar.gz", "pkg-1.0.tgz", "pkg-1.0.tar.bz2", "pkg-1.0.tar.xz",
		"pkg-1.0.tar.zst", "pkg-1.0.tar.lzma", "pkg-1.0.tar", "pkg-1.0.zip",
		"file.gz", "file.bz2", "file.xz", "file.7z", "file.rar",
		"PKG-1.0.TAR.XZ", // case-insensitive
	}
	for _, name := range supported {
		_, ok := lookupExtractor(name)
		assert.True(t, ok, "expected extractor for %s", name)
	}

	_, ok := lookupExtractor("pkg-1.0.deb")
	assert.False(t, ok)
}

func TestExtractStripsTopLevelPrefix(t *testing.T) {
	tmp := t.TempDir()
	archive := filepath.Join(tmp, "pkg-1.0.tar.gz")
	writeTarGz(t, archive, []struct {
		name    string
		content string
		dir     bool
	}{
		{name: "pkg-1.0/", dir: true},
		{name: "pkg-1.0/configure", content: "#!/bin/sh\n"},
		{name: "pkg-1.0/src/", dir: true},
		{name: "pkg-1.0/src/main.c", content: "int main(void){return 0;}\n"},
	})

	target := filepath.Join(tmp, "out")
	require.NoError(t, Extract(archive, target))

	// The release directory prefix is stripped so the tree lands directly
	// in the target.
	data, err := os.ReadFile(filepath.Join(target, "configure"))
	require.NoError(t, err)
	assert.Equal(t, "#!/bin/sh\n", string(data))

	_, err = os.Stat(filepath.Join(target, "src", "main.c"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(target, "pkg-1.0"))
	assert.True(t, os.IsNotExist(err))
}

func TestExtractRestoresWorkingDirectory(t *testing.T) {
	before, err := os.Getwd()
	require.NoError(t, err)

	tmp := t.TempDir()
	archive := filepath.Join(tmp, "pkg-1.0.tar.gz")
	writeTarGz(t, archive, []struct {
		name    string
		content string
		dir     bool
	}{
		{name: "pkg-1.0/file", content: "x"},
	})

	require.NoError(t, Extract(archive, filepath.Join(tmp, "out")))

	after, err := os.Getwd()
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestExtractRestoresWorkingDirectoryOnFailure(t *testing.T) {
	before, err := os.Getwd()
	require.NoError(t, err)

	tmp := t.TempDir()
	// Valid suffix, garbage content: the extractor itself fails.
	archive := filepath.Join(tmp, "broken.tar.gz")
	require.NoError(t, os.WriteFile(archive, []byte("not a gzip stream"), 0o644))

	err = Extract(archive, filepath.Join(tmp, "out"))
	require.Error(t, err)

	after, err := os.Getwd()
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestExtractUnsupportedFormat(t *testing.T) {
	tmp := t.TempDir()
	archive := filepath.Join(tmp, "pkg.deb")
	require.NoError(t, os.WriteFile(archive, []byte("x"), 0o644))

	err := Extract(archive, filepath.Join(tmp, "out"))
	require.ErrorIs(t, err, errUnsupportedFormat)
}

func TestExtractRejectsPathTraversal(t *testing.T) {
	tmp := t.TempDir()
	archive := filepath.Join(tmp, "evil.tar.gz")
	writeTarGz(t, archive, []struct {
		name    string
		content string
		dir     bool
	}{
		{name: "../../evil", content: "x"},
	})

	err := Extract(archive, filepath.Join(tmp, "out"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "illegal path")
}

func TestExtractNoPrefixTarball(t *testing.T) {
	// Flat tarballs without a top-level directory extract as-is.
	tmp := t.TempDir()
	archive := filepath.Join(tmp, "flat.tar.gz")
	writeTarGz(t, archive, []struct {
		name    string
		content string
		dir     bool
	}{
		{name: "README", content: "hello\n"},
	})

	target := filepath.Join(tmp, "out")
	require.NoError(t, Extract(archive, target))

	data, err := os.ReadFile(filepath.Join(target, "README"))
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(data))
}
