package crossforge

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// BuildStep drives one package through prepare, configure, build, optional
// check and install. Every phase's combined output is teed to the console and
// a rotated log file; the first non-zero exit aborts the step and, through
// the driver, the whole pipeline.
type BuildStep struct {
	cfg      *Config
	spec     PackageSpec
	exec     *Executor
	logs     *LogSet
	fetcher  *Fetcher
	verifier *Verifier
	jobs     int
	quiet    bool
	// toolBin is the bin directory of the previously installed steps,
	// injected explicitly rather than discovered via ambient PATH.
	toolBin string
}

// NewBuildStep assembles a step for one resolved package.
func NewBuildStep(cfg *Config, spec PackageSpec, ex *Executor, logs *LogSet,
	fetcher *Fetcher, verifier *Verifier, toolBin string) *BuildStep {
	return &BuildStep{
		cfg:      cfg,
		spec:     spec,
		exec:     ex,
		logs:     logs,
		fetcher:  fetcher,
		verifier: verifier,
		jobs:     buildJobs(cfg),
		toolBin:  toolBin,
	}
}

// Run executes all phases in order.
func (b *BuildStep) Run() error {
	colArrow.Print("-> ")
	colSuccess.Printf("Building %s %s (%s)\n", b.spec.Name, b.spec.Version, b.spec.Role)

	if err := b.prepare(); err != nil {
		return fmt.Errorf("prepare %s: %w", b.spec.Role, err)
	}
	if err := b.prerequisites(); err != nil {
		return fmt.Errorf("prerequisites %s: %w", b.spec.Role, err)
	}
	if err := b.configure(); err != nil {
		return fmt.Errorf("configure %s: %w", b.spec.Role, err)
	}
	if err := b.build(); err != nil {
		return fmt.Errorf("build %s: %w", b.spec.Role, err)
	}
	if err := b.check(); err != nil {
		return fmt.Errorf("check %s: %w", b.spec.Role, err)
	}
	if err := b.install(); err != nil {
		return fmt.Errorf("install %s: %w", b.spec.Role, err)
	}

	colArrow.Print("-> ")
	colSuccess.Printf("Installed %s %s\n", b.spec.Role, b.spec.Version)
	return nil
}

// prepare fetches, verifies and extracts the source tree. The tree is keyed
// by package name and version, which makes the stage-1 compiler reuse the
// full compiler's already-extracted sources instead of re-fetching.
func (b *BuildStep) prepare() error {
	srcDir := b.spec.SourceDir(b.cfg)
	if _, err := os.Stat(srcDir); err == nil {
		debugf("Source tree already present: %s\n", srcDir)
		return nil
	}

	if err := b.fetcher.Fetch(b.spec, b.verifier); err != nil {
		return err
	}

	archivePath := filepath.Join(b.cfg.SourcesDir, b.spec.Archive)
	colArrow.Print("-> ")
	colSuccess.Printf("Extracting %s\n", b.spec.Archive)
	return Extract(archivePath, srcDir)
}

// prerequisites runs the bundled math-library downloader shipped inside
// compiler source trees, when present.
func (b *BuildStep) prerequisites() error {
	if !b.spec.Role.NeedsPrerequisites() {
		return nil
	}
	srcDir := b.spec.SourceDir(b.cfg)
	script := filepath.Join(srcDir, "contrib", "download_prerequisites")
	if _, err := os.Stat(script); os.IsNotExist(err) {
		debugf("No prerequisite downloader in %s\n", srcDir)
		return nil
	}

	return b.runPhase("prerequisites", srcDir, "./contrib/download_prerequisites")
}

// configure runs the source tree's configure script out-of-tree. A missing
// script is fatal or a warning depending on the configured policy.
func (b *BuildStep) configure() error {
	srcDir := b.spec.SourceDir(b.cfg)
	buildDir := b.spec.BuildDir(b.cfg)
	if err := os.MkdirAll(buildDir, 0o755); err != nil {
		return fmt.Errorf("failed to create build directory %s: %w", buildDir, err)
	}

	configureScript := filepath.Join(srcDir, "configure")
	if _, err := os.Stat(configureScript); os.IsNotExist(err) {
		if b.cfg.Configure == ConfigureFatal {
			return fmt.Errorf("no configure script in %s", srcDir)
		}
		colArrow.Print("-> ")
		colWarn.Printf("Warning: no configure script in %s, proceeding without configuring\n", srcDir)
		return nil
	}

	args := append([]string{configureScript}, b.spec.ConfigureArgs...)
	return b.runPhase("configure", buildDir, args...)
}

func (b *BuildStep) build() error {
	args := []string{"make", fmt.Sprintf("-j%d", b.jobs)}
	args = append(args, b.spec.Role.BuildTargets()...)
	return b.runPhase("build", b.spec.BuildDir(b.cfg), args...)
}

func (b *BuildStep) check() error {
	targets := b.spec.Role.CheckTargets()
	if !b.cfg.RunChecks || len(targets) == 0 {
		return nil
	}
	args := append([]string{"make"}, targets...)
	return b.runPhase("check", b.spec.BuildDir(b.cfg), args...)
}

// install runs the role's install targets, either straight into the prefix
// or staged through DESTDIR and merged afterwards (sysroot variant).
func (b *BuildStep) install() error {
	args := []string{"make"}
	args = append(args, b.spec.Role.InstallTargets()...)

	if !b.cfg.UseDestDir {
		return b.runPhase("install", b.spec.BuildDir(b.cfg), args...)
	}

	staging := filepath.Join(b.cfg.DestDir, b.spec.Role.String())
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return fmt.Errorf("failed to create staging root %s: %w", staging, err)
	}
	args = append(args, "DESTDIR="+staging)
	if err := b.runPhase("install", b.spec.BuildDir(b.cfg), args...); err != nil {
		return err
	}

	// DESTDIR staged the tree under <staging><prefix>; merge it into the
	// live prefix so later steps find the tools.
	staged := filepath.Join(staging, b.cfg.Prefix)
	return copyTree(staged, b.cfg.Prefix)
}

// runPhase executes one command with output teed to the console and a fresh
// rotated log for this package/phase pair.
func (b *BuildStep) runPhase(phase, dir string, args ...string) error {
	logFile, err := b.logs.Open(b.spec.Role.String(), phase)
	if err != nil {
		return err
	}
	defer logFile.Close()

	var sink io.Writer = logFile
	if !b.quiet {
		sink = io.MultiWriter(logFile, os.Stdout)
	}

	cmd := exec.Command(args[0], args[1:]...)
	cmd.Dir = dir
	cmd.Env = b.phaseEnv()
	cmd.Stdout = sink
	cmd.Stderr = sink

	debugf("[%s/%s] %s\n", b.spec.Role, phase, strings.Join(args, " "))
	if err := b.exec.Run(cmd); err != nil {
		return fmt.Errorf("%s failed (see %s): %w",
			phase, filepath.Join(b.cfg.LogDir, b.spec.Role.String()+"-"+phase+".log"), err)
	}
	return nil
}

// phaseEnv builds the child environment: compiler/linker flags from the
// configuration and the injected tool bin directory prepended to PATH so this
// step finds the tools earlier steps installed.
func (b *BuildStep) phaseEnv() []string {
	env := []string{}
	for _, e := range os.Environ() {
		if strings.HasPrefix(e, "CFLAGS=") || strings.HasPrefix(e, "CXXFLAGS=") ||
			strings.HasPrefix(e, "LDFLAGS=") || strings.HasPrefix(e, "PATH=") {
			continue
		}
		env = append(env, e)
	}
	env = append(env,
		"CFLAGS="+b.cfg.CFLAGS,
		"CXXFLAGS="+b.cfg.CXXFLAGS,
		"LDFLAGS="+b.cfg.LDFLAGS,
		"PATH="+b.toolBin+string(os.PathListSeparator)+os.Getenv("PATH"),
	)
	return env
}

// copyTree recursively copies src into dest, preserving modes and symlinks.
func copyTree(src, dest string) error {
	if _, err := os.Stat(src); os.IsNotExist(err) {
		return nil
	}
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)

		switch {
		case info.IsDir():
			return os.MkdirAll(target, info.Mode())
		case info.Mode()&os.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			_ = os.Remove(target)
			return os.Symlink(link, target)
		default:
			return copyFile(path, target, info.Mode())
		}
	})
}

func copyFile(src, dest string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
