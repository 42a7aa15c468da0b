package crossforge

import (
	"fmt"
	"path/filepath"
)

// Role identifies a package's place in the toolchain bootstrap. The pipeline
// dispatches on the role, never on name strings, so the stage-1 and full
// compiler can share sources while keeping separate flag tables and build
// targets.
type Role int

const (
	RoleBinutils Role = iota
	RoleBootstrapCompiler
	RoleRuntimeLibrary
	RoleCompiler
	RoleDebugger
)

func (r Role) String() string {
	switch r {
	case RoleBinutils:
		return "binutils"
	case RoleBootstrapCompiler:
		return "gcc-stage1"
	case RoleRuntimeLibrary:
		return "newlib"
	case RoleCompiler:
		return "gcc"
	case RoleDebugger:
		return "gdb"
	}
	return "unknown"
}

// PackageName is the upstream tarball name. Both compiler roles build from
// the same gcc release.
func (r Role) PackageName() string {
	switch r {
	case RoleBinutils:
		return "binutils"
	case RoleBootstrapCompiler, RoleCompiler:
		return "gcc"
	case RoleRuntimeLibrary:
		return "newlib"
	case RoleDebugger:
		return "gdb"
	}
	return ""
}

// BuildDirName is the out-of-tree build directory identity. It is keyed on
// the role, not the version, so rebuilding at a new version lands in the same
// logical directory.
func (r Role) BuildDirName() string {
	return r.String() + "-build"
}

// NeedsPrerequisites reports whether the extracted source tree's bundled
// prerequisite downloader (gmp/mpfr/mpc) should be run before configuring.
func (r Role) NeedsPrerequisites() bool {
	return r == RoleBootstrapCompiler || r == RoleCompiler
}

// BuildTargets returns the make targets for the build phase. Empty means the
// default target. The stage-1 compiler builds only the compiler proper and
// its minimal runtime support.
func (r Role) BuildTargets() []string {
	if r == RoleBootstrapCompiler {
		return []string{"all-gcc", "all-target-libgcc"}
	}
	return nil
}

// InstallTargets returns the make targets for the install phase.
func (r Role) InstallTargets() []string {
	if r == RoleBootstrapCompiler {
		return []string{"install-gcc", "install-target-libgcc"}
	}
	return []string{"install"}
}

// CheckTargets returns the self-check targets for the bundled dependency
// libraries, run only when checks are enabled.
func (r Role) CheckTargets() []string {
	if r == RoleBootstrapCompiler || r == RoleCompiler {
		return []string{"check-gmp", "check-mpfr", "check-mpc"}
	}
	return nil
}

// defaultVersions pins the known-good release per package. Latest mode and
// explicit overrides replace these.
var defaultVersions = map[string]string{
	"binutils": "2.41",
	"gcc":      "13.2.0",
	"newlib":   "4.3.0.20230120",
	"gdb":      "13.2",
}

// sourceBase returns the listing directory the package's archives live under.
// newlib is hosted on sourceware, everything else on the GNU mirror.
func (r Role) sourceBase(cfg *Config) string {
	switch r {
	case RoleRuntimeLibrary:
		return "https://sourceware.org/pub/newlib"
	case RoleBootstrapCompiler, RoleCompiler:
		// gcc releases live one directory deeper: gcc/gcc-<version>/
		return cfg.MirrorURL + "/gcc"
	default:
		return cfg.MirrorURL + "/" + r.PackageName()
	}
}

// listingURL returns the directory listing used for latest-version
// resolution.
func (r Role) listingURL(cfg *Config) string {
	return r.sourceBase(cfg) + "/"
}

// signed reports whether upstream publishes a detached signature for this
// package's archives. sourceware's newlib tarballs are unsigned.
func (r Role) signed() bool {
	return r != RoleRuntimeLibrary
}

// PackageSpec describes one resolved package: where its archive comes from,
// what it is called on disk and how it is configured. Immutable once built.
type PackageSpec struct {
	Name          string
	Version       string
	Role          Role
	URL           string
	Archive       string
	Signature     string // empty when upstream does not sign
	ConfigureArgs []string
}

// newPackageSpec resolves a role and version into a concrete PackageSpec.
func newPackageSpec(role Role, version string, cfg *Config) PackageSpec {
	name := role.PackageName()
	var archive, url string
	switch role {
	case RoleRuntimeLibrary:
		archive = fmt.Sprintf("%s-%s.tar.gz", name, version)
		url = fmt.Sprintf("%s/%s", role.sourceBase(cfg), archive)
	case RoleBootstrapCompiler, RoleCompiler:
		archive = fmt.Sprintf("%s-%s.tar.xz", name, version)
		url = fmt.Sprintf("%s/gcc-%s/%s", role.sourceBase(cfg), version, archive)
	default:
		archive = fmt.Sprintf("%s-%s.tar.xz", name, version)
		url = fmt.Sprintf("%s/%s", role.sourceBase(cfg), archive)
	}

	spec := PackageSpec{
		Name:          name,
		Version:       version,
		Role:          role,
		URL:           url,
		Archive:       archive,
		ConfigureArgs: configureArgs(role, cfg),
	}
	if role.signed() {
		spec.Signature = archive + ".sig"
	}
	return spec
}

// SourceDir is the extracted source tree location. It is keyed by package
// name and version, so the stage-1 and full compiler share one tree.
func (s PackageSpec) SourceDir(cfg *Config) string {
	return filepath.Join(cfg.BuildRoot, fmt.Sprintf("%s-%s", s.Name, s.Version))
}

// BuildDir is the out-of-tree build directory for this step.
func (s PackageSpec) BuildDir(cfg *Config) string {
	return filepath.Join(cfg.BuildRoot, s.Role.BuildDirName())
}

// configureArgs is the static flag table per role for the fixed embedded ARM
// target. Selected once per run, never recomputed.
func configureArgs(role Role, cfg *Config) []string {
	target := cfg.Target
	prefix := cfg.Prefix
	sysroot := filepath.Join(prefix, target)

	switch role {
	case RoleBinutils:
		return []string{
			"--target=" + target,
			"--prefix=" + prefix,
			"--with-sysroot=" + sysroot,
			"--disable-nls",
			"--disable-werror",
			"--enable-multilib",
			"--enable-interwork",
		}
	case RoleBootstrapCompiler:
		return []string{
			"--target=" + target,
			"--prefix=" + prefix,
			"--without-headers",
			"--with-newlib",
			"--with-gnu-as",
			"--with-gnu-ld",
			"--enable-languages=c",
			"--disable-nls",
			"--disable-shared",
			"--disable-threads",
			"--disable-libssp",
			"--disable-libgomp",
			"--disable-libquadmath",
			"--enable-multilib",
			"--with-multilib-list=rmprofile",
		}
	case RoleRuntimeLibrary:
		return []string{
			"--target=" + target,
			"--prefix=" + prefix,
			"--disable-newlib-supplied-syscalls",
			"--enable-newlib-reent-small",
			"--disable-newlib-fvwrite-in-streamio",
			"--disable-newlib-wide-orient",
			"--enable-newlib-nano-malloc",
			"--disable-nls",
			"--enable-multilib",
		}
	case RoleCompiler:
		return []string{
			"--target=" + target,
			"--prefix=" + prefix,
			"--with-newlib",
			"--with-headers=" + filepath.Join(sysroot, "include"),
			"--with-gnu-as",
			"--with-gnu-ld",
			"--enable-languages=c,c++",
			"--disable-nls",
			"--disable-shared",
			"--disable-threads",
			"--disable-libssp",
			"--disable-libgomp",
			"--disable-libquadmath",
			"--enable-multilib",
			"--with-multilib-list=rmprofile",
		}
	case RoleDebugger:
		return []string{
			"--target=" + target,
			"--prefix=" + prefix,
			"--disable-nls",
			"--disable-werror",
			"--with-python=no",
		}
	}
	return nil
}

// pipelineRoles returns the hand-ordered bootstrap sequence. A C compiler
// must exist before the C library can be built against it, and the full
// compiler needs the library's headers.
func pipelineRoles(cfg *Config) []Role {
	roles := []Role{
		RoleBinutils,
		RoleBootstrapCompiler,
		RoleRuntimeLibrary,
		RoleCompiler,
	}
	if cfg.WithGDB {
		roles = append(roles, RoleDebugger)
	}
	return roles
}
