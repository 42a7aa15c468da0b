package crossforge

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// TrustPolicy decides what happens when a cached or freshly downloaded
// archive fails signature verification.
type TrustPolicy int

const (
	// TrustWarn prints a warning and continues; signature problems are
	// reported but never stop a build.
	TrustWarn TrustPolicy = iota
	// TrustStrict aborts the pipeline on a bad or missing signature.
	TrustStrict
)

// ConfigurePolicy decides what happens when an extracted source tree has no
// configure script.
type ConfigurePolicy int

const (
	ConfigureFatal ConfigurePolicy = iota
	ConfigureWarn
)

// Config is built once from defaults, the conf file, CROSSFORGE_* environment
// overrides and CLI flags, then passed explicitly into the pipeline. It is
// never mutated after construction.
type Config struct {
	RootDir    string // working root; everything below lives under it
	SourcesDir string // archive + signature cache
	BuildRoot  string // extracted sources and out-of-tree build dirs
	LogDir     string // rotated phase logs
	DestDir    string // staging root when UseDestDir is set
	Prefix     string // install prefix for the cross tools

	Target    string // e.g. arm-none-eabi
	MirrorURL string // GNU mirror, no trailing slash

	KeyringPath string
	KeyringURL  string // fetched once into KeyringPath when set
	LogHistory  int    // rotated logs kept per package/phase
	Jobs        int    // make parallelism; 0 means detected CPU count
	IdleBuild   bool

	Trust     TrustPolicy
	Configure ConfigurePolicy

	UseDestDir bool // sysroot variant: install through a DESTDIR staging root
	RunChecks  bool // run make check for the bundled math libraries

	WithGDB bool
	Latest  bool
	// Overrides maps package name to a pinned version. An empty value means
	// "resolve latest for this package only".
	Overrides map[string]string

	CFLAGS   string
	CXXFLAGS string
	LDFLAGS  string

	// Optional S3-compatible archive mirror (Cloudflare R2 style).
	S3AccountID string
	S3AccessKey string
	S3SecretKey string
	S3Bucket    string
}

// loadConfValues reads a key=value conf file. Missing file is not an error;
// the defaults apply.
func loadConfValues(path string) (map[string]string, error) {
	values := make(map[string]string)

	file, err := os.Open(path)
	if err == nil {
		defer file.Close()
		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			parts := strings.SplitN(line, "=", 2)
			if len(parts) != 2 {
				continue
			}
			key := strings.TrimSpace(parts[0])
			val := strings.TrimSpace(parts[1])
			val = strings.Trim(val, `"'`)
			values[key] = val
		}
		if err := scanner.Err(); err != nil {
			return values, err
		}
	}

	mergeEnvOverrides(values)
	return values, nil
}

// mergeEnvOverrides folds CROSSFORGE_* environment variables over the conf
// file values. Environment wins.
func mergeEnvOverrides(values map[string]string) {
	for _, env := range os.Environ() {
		if strings.HasPrefix(env, "CROSSFORGE_") {
			parts := strings.SplitN(env, "=", 2)
			if len(parts) == 2 {
				values[parts[0]] = parts[1]
			}
		}
	}
}

// NewConfig assembles the immutable Config from the parsed values. CLI flags
// are applied by the caller on the returned struct before the pipeline starts.
func NewConfig(values map[string]string) *Config {
	cfg := &Config{
		Target:     defaultTarget,
		MirrorURL:  defaultMirrorURL,
		LogHistory: 3,
		Trust:      TrustWarn,
		Configure:  ConfigureFatal,
		Overrides:  make(map[string]string),
	}

	cfg.RootDir = values["CROSSFORGE_ROOT"]
	if cfg.RootDir == "" {
		cfg.RootDir = defaultRoot
	}

	if mirror := values["CROSSFORGE_MIRROR"]; mirror != "" {
		cfg.MirrorURL = strings.TrimRight(mirror, "/")
		debugf("=> Using GNU mirror from config: %s\n", cfg.MirrorURL)
	}

	if target := values["CROSSFORGE_TARGET"]; target != "" {
		cfg.Target = target
	}

	if hist := values["CROSSFORGE_LOG_HISTORY"]; hist != "" {
		if n, err := strconv.Atoi(hist); err == nil && n > 0 {
			cfg.LogHistory = n
		}
	}

	if jobs := values["CROSSFORGE_JOBS"]; jobs != "" {
		if n, err := strconv.Atoi(jobs); err == nil && n > 0 {
			cfg.Jobs = n
		}
	}

	if values["CROSSFORGE_IDLE"] == "1" {
		cfg.IdleBuild = true
	}

	switch values["CROSSFORGE_TRUST"] {
	case "strict":
		cfg.Trust = TrustStrict
	case "", "warn":
		cfg.Trust = TrustWarn
	}

	switch values["CROSSFORGE_CONFIGURE_POLICY"] {
	case "warn":
		cfg.Configure = ConfigureWarn
	case "", "fatal":
		cfg.Configure = ConfigureFatal
	}

	if values["CROSSFORGE_DESTDIR"] == "1" {
		cfg.UseDestDir = true
	}
	if values["CROSSFORGE_CHECK"] == "1" {
		cfg.RunChecks = true
	}

	Debug = values["CROSSFORGE_DEBUG"] == "1"

	cfg.CFLAGS = values["CROSSFORGE_CFLAGS"]
	if cfg.CFLAGS == "" {
		cfg.CFLAGS = "-O2 -pipe"
	}
	cfg.CXXFLAGS = values["CROSSFORGE_CXXFLAGS"]
	if cfg.CXXFLAGS == "" {
		cfg.CXXFLAGS = cfg.CFLAGS
	}
	cfg.LDFLAGS = values["CROSSFORGE_LDFLAGS"]

	cfg.S3AccountID = values["S3_ACCOUNT_ID"]
	cfg.S3AccessKey = values["S3_ACCESS_KEY_ID"]
	cfg.S3SecretKey = values["S3_SECRET_ACCESS_KEY"]
	cfg.S3Bucket = values["S3_BUCKET_NAME"]

	cfg.SourcesDir = filepath.Join(cfg.RootDir, "source")
	cfg.BuildRoot = filepath.Join(cfg.RootDir, "build")
	cfg.LogDir = filepath.Join(cfg.RootDir, "log")
	cfg.DestDir = filepath.Join(cfg.RootDir, "destdir")
	cfg.Prefix = values["CROSSFORGE_PREFIX"]
	if cfg.Prefix == "" {
		cfg.Prefix = filepath.Join(cfg.RootDir, "cross-tools")
	}
	cfg.KeyringPath = filepath.Join(cfg.RootDir, "keyring.json")
	cfg.KeyringURL = values["CROSSFORGE_KEYRING_URL"]

	return cfg
}

// ToolBinDir returns the bin directory of the install prefix. Build steps
// receive this explicitly instead of relying on ambient PATH mutation.
func (c *Config) ToolBinDir() string {
	return filepath.Join(c.Prefix, "bin")
}
