package crossforge

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig(map[string]string{})

	assert.Equal(t, defaultRoot, cfg.RootDir)
	assert.Equal(t, defaultMirrorURL, cfg.MirrorURL)
	assert.Equal(t, defaultTarget, cfg.Target)
	assert.Equal(t, 3, cfg.LogHistory)
	assert.Equal(t, TrustWarn, cfg.Trust)
	assert.Equal(t, ConfigureFatal, cfg.Configure)
	assert.Equal(t, "-O2 -pipe", cfg.CFLAGS)
	assert.Equal(t, cfg.CFLAGS, cfg.CXXFLAGS)
	assert.False(t, cfg.UseDestDir)
	assert.False(t, cfg.WithGDB)

	assert.Equal(t, filepath.Join(defaultRoot, "source"), cfg.SourcesDir)
	assert.Equal(t, filepath.Join(defaultRoot, "build"), cfg.BuildRoot)
	assert.Equal(t, filepath.Join(defaultRoot, "log"), cfg.LogDir)
	assert.Equal(t, filepath.Join(defaultRoot, "cross-tools"), cfg.Prefix)
	assert.Equal(t, filepath.Join(defaultRoot, "cross-tools", "bin"), cfg.ToolBinDir())
}

func TestNewConfigValues(t *testing.T) {
	cfg := NewConfig(map[string]string{
		"CROSSFORGE_ROOT":             "/work/tc",
		"CROSSFORGE_MIRROR":           "https://mirror.example/gnu/",
		"CROSSFORGE_TARGET":           "riscv32-unknown-elf",
		"CROSSFORGE_LOG_HISTORY":      "5",
		"CROSSFORGE_JOBS":             "8",
		"CROSSFORGE_IDLE":             "1",
		"CROSSFORGE_TRUST":            "strict",
		"CROSSFORGE_CONFIGURE_POLICY": "warn",
		"CROSSFORGE_DESTDIR":          "1",
		"CROSSFORGE_CHECK":            "1",
		"CROSSFORGE_PREFIX":           "/opt/cross",
		"CROSSFORGE_CFLAGS":           "-Os",
		"CROSSFORGE_LDFLAGS":          "-s",
	})

	assert.Equal(t, "/work/tc", cfg.RootDir)
	assert.Equal(t, "https://mirror.example/gnu", cfg.MirrorURL, "trailing slash trimmed")
	assert.Equal(t, "riscv32-unknown-elf", cfg.Target)
	assert.Equal(t, 5, cfg.LogHistory)
	assert.Equal(t, 8, cfg.Jobs)
	assert.True(t, cfg.IdleBuild)
	assert.Equal(t, TrustStrict, cfg.Trust)
	assert.Equal(t, ConfigureWarn, cfg.Configure)
	assert.True(t, cfg.UseDestDir)
	assert.True(t, cfg.RunChecks)
	assert.Equal(t, "/opt/cross", cfg.Prefix)
	assert.Equal(t, "-Os", cfg.CFLAGS)
	assert.Equal(t, "-Os", cfg.CXXFLAGS, "CXXFLAGS inherits CFLAGS when unset")
	assert.Equal(t, "-s", cfg.LDFLAGS)
}

func TestNewConfigIgnoresBadNumbers(t *testing.T) {
	cfg := NewConfig(map[string]string{
		"CROSSFORGE_LOG_HISTORY": "zero",
		"CROSSFORGE_JOBS":        "-4",
	})
	assert.Equal(t, 3, cfg.LogHistory)
	assert.Equal(t, 0, cfg.Jobs)
}

func TestLoadConfValues(t *testing.T) {
	dir := t.TempDir()
	confPath := filepath.Join(dir, "crossforge.conf")
	conf := `# toolchain settings
CROSSFORGE_TARGET=arm-none-eabi

CROSSFORGE_MIRROR="https://mirror.example/gnu"
CROSSFORGE_JOBS='4'
malformed line without equals
CROSSFORGE_CFLAGS = -O2 -g
`
	require.NoError(t, os.WriteFile(confPath, []byte(conf), 0o644))

	values, err := loadConfValues(confPath)
	require.NoError(t, err)

	assert.Equal(t, "arm-none-eabi", values["CROSSFORGE_TARGET"])
	assert.Equal(t, "https://mirror.example/gnu", values["CROSSFORGE_MIRROR"], "quotes stripped")
	assert.Equal(t, "4", values["CROSSFORGE_JOBS"])
	assert.Equal(t, "-O2 -g", values["CROSSFORGE_CFLAGS"], "spaces around = tolerated")
	assert.NotContains(t, values, "malformed line without equals")
}

func TestLoadConfValuesMissingFile(t *testing.T) {
	values, err := loadConfValues(filepath.Join(t.TempDir(), "nope.conf"))
	require.NoError(t, err)
	assert.NotNil(t, values)
}

func TestLoadConfValuesEnvOverride(t *testing.T) {
	dir := t.TempDir()
	confPath := filepath.Join(dir, "crossforge.conf")
	require.NoError(t, os.WriteFile(confPath, []byte("CROSSFORGE_TARGET=from-file\n"), 0o644))

	t.Setenv("CROSSFORGE_TARGET", "from-env")
	values, err := loadConfValues(confPath)
	require.NoError(t, err)
	assert.Equal(t, "from-env", values["CROSSFORGE_TARGET"])
}

func TestBuildJobs(t *testing.T) {
	cfg := &Config{Jobs: 7}
	assert.Equal(t, 7, buildJobs(cfg), "explicit setting wins")

	cfg = &Config{}
	assert.GreaterOrEqual(t, buildJobs(cfg), 1)

	cfg = &Config{IdleBuild: true}
	idle := buildJobs(cfg)
	assert.GreaterOrEqual(t, idle, 1)
	assert.LessOrEqual(t, idle, buildJobs(&Config{}))
}
