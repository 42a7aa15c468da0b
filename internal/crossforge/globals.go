package crossforge

import (
	"errors"

	"github.com/gookit/color"
)

const (
	// Canonical GNU upstream. URLs pointing here are rewritten to the
	// configured mirror before downloading.
	gnuOriginalURL = "https://ftp.gnu.org/gnu"

	defaultMirrorURL = "https://mirrors.kernel.org/gnu"
	defaultTarget    = "arm-none-eabi"
	defaultRoot      = "/var/lib/crossforge"

	// ConfigFile is the default configuration path, overridable via
	// CROSSFORGE_ROOT for tests and chrooted setups.
	ConfigFile = "/etc/crossforge.conf"
)

var (
	version   = "dev"     // overridden at build time
	buildDate = "unknown" // overridden at build time

	Debug bool

	errUnsupportedFormat = errors.New("unsupported archive format")
	errResolveFailed     = errors.New("version resolution failed")
)

// color helpers
var (
	colInfo    = color.Info
	colWarn    = color.Warn
	colError   = color.Error
	colSuccess = color.HEX("#1976D2")
	colArrow   = color.HEX("#FFEB3B")
	colNote    = color.Tag("notice")
)
