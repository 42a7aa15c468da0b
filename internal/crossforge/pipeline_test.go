package crossforge

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stubListingClient(body string, status int) *http.Client {
	return &http.Client{Transport: roundTripperFunc(func(r *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: status,
			Body:       io.NopCloser(strings.NewReader(body)),
			Header:     make(http.Header),
		}, nil
	})}
}

func newTestPipeline(t *testing.T) *Pipeline {
	t.Helper()
	cfg := NewConfig(map[string]string{"CROSSFORGE_ROOT": t.TempDir()})
	return NewPipeline(context.Background(), cfg)
}

func TestVersionForDefaults(t *testing.T) {
	p := newTestPipeline(t)

	v, err := p.versionFor(RoleBinutils)
	require.NoError(t, err)
	assert.Equal(t, defaultVersions["binutils"], v)
}

func TestVersionForExplicitOverride(t *testing.T) {
	p := newTestPipeline(t)
	p.cfg.Overrides["binutils"] = "2.38"
	// A pinned override wins without any network traffic.
	p.client = stubListingClient("", http.StatusInternalServerError)

	v, err := p.versionFor(RoleBinutils)
	require.NoError(t, err)
	assert.Equal(t, "2.38", v)
}

func TestVersionForEmptyOverrideResolvesLatest(t *testing.T) {
	p := newTestPipeline(t)
	// Empty override means "latest for this package only".
	p.cfg.Overrides["binutils"] = ""
	p.client = stubListingClient(`href="binutils-2.42.tar.xz"`, http.StatusOK)

	v, err := p.versionFor(RoleBinutils)
	require.NoError(t, err)
	assert.Equal(t, "2.42", v)

	// Other packages stay pinned to their defaults.
	v, err = p.versionFor(RoleDebugger)
	require.NoError(t, err)
	assert.Equal(t, defaultVersions["gdb"], v)
}

func TestVersionForLatestFallsBackToDefault(t *testing.T) {
	p := newTestPipeline(t)
	p.cfg.Latest = true
	p.client = stubListingClient("", http.StatusInternalServerError)

	v, err := p.versionFor(RoleCompiler)
	require.NoError(t, err)
	assert.Equal(t, defaultVersions["gcc"], v)
}

func TestResolveSpecsOrder(t *testing.T) {
	p := newTestPipeline(t)
	p.cfg.WithGDB = true

	specs, err := p.resolveSpecs()
	require.NoError(t, err)
	require.Len(t, specs, 5)

	var roles []Role
	for _, s := range specs {
		roles = append(roles, s.Role)
	}
	assert.Equal(t, []Role{
		RoleBinutils,
		RoleBootstrapCompiler,
		RoleRuntimeLibrary,
		RoleCompiler,
		RoleDebugger,
	}, roles)

	// Stage-1 and full compiler resolve to the same release.
	assert.Equal(t, specs[1].Version, specs[3].Version)
}

func TestRunStopsOnFirstFailure(t *testing.T) {
	p := newTestPipeline(t)

	// Pre-seeded binutils tree without a configure script: the first step
	// fails at configure under the default fatal policy, before any build
	// phase runs.
	binutilsSrc := filepath.Join(p.cfg.BuildRoot, "binutils-"+defaultVersions["binutils"])
	require.NoError(t, os.MkdirAll(binutilsSrc, 0o755))

	err := p.Run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configure binutils")

	// Nothing later ran: the next package's build directory was never
	// created and no phase wrote a log.
	_, statErr := os.Stat(filepath.Join(p.cfg.BuildRoot, RoleBootstrapCompiler.BuildDirName()))
	assert.True(t, os.IsNotExist(statErr))

	entries, readErr := os.ReadDir(p.cfg.LogDir)
	require.NoError(t, readErr)
	assert.Empty(t, entries)
}

func TestLoadTrustMissingKeyring(t *testing.T) {
	p := newTestPipeline(t)
	// No keyring file, no URL: the pipeline runs unverified.
	p.loadTrust()
	assert.Nil(t, p.verifier)
}

func TestLoadTrustWithKeyring(t *testing.T) {
	p := newTestPipeline(t)
	_, keyringPath := newTestKeyring(t, t.TempDir())
	p.cfg.KeyringPath = keyringPath

	p.loadTrust()
	require.NotNil(t, p.verifier)
}
