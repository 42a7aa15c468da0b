package crossforge

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sort"
)

// Pipeline is the top-level driver: it resolves versions, assembles the
// ordered package list and runs each build step, stopping on the first
// failure. Strictly sequential; the only parallelism lives inside make.
type Pipeline struct {
	cfg      *Config
	exec     *Executor
	logs     *LogSet
	fetcher  *Fetcher
	verifier *Verifier
	client   *http.Client
}

// NewPipeline wires the pipeline's collaborators from the configuration.
func NewPipeline(ctx context.Context, cfg *Config) *Pipeline {
	ex := NewExecutor(ctx)
	ex.ApplyIdlePriority = cfg.IdleBuild
	f := NewFetcher(cfg)
	return &Pipeline{
		cfg:     cfg,
		exec:    ex,
		logs:    NewLogSet(cfg.LogDir, cfg.LogHistory),
		fetcher: f,
		client:  f.client,
	}
}

// Run executes the whole bootstrap sequence.
func (p *Pipeline) Run() error {
	for _, dir := range []string{p.cfg.SourcesDir, p.cfg.BuildRoot, p.cfg.LogDir, p.cfg.Prefix} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	p.loadTrust()

	specs, err := p.resolveSpecs()
	if err != nil {
		return err
	}

	toolBin := p.cfg.ToolBinDir()
	for _, spec := range specs {
		step := NewBuildStep(p.cfg, spec, p.exec, p.logs, p.fetcher, p.verifier, toolBin)
		if err := step.Run(); err != nil {
			return err
		}
	}

	colArrow.Print("-> ")
	colSuccess.Printf("Toolchain for %s installed under %s\n", p.cfg.Target, p.cfg.Prefix)
	return nil
}

// loadTrust fetches (once) and loads the keyring. Under the warn policy a
// missing or broken keyring downgrades every signature check to a warning;
// under strict it surfaces when the first signed archive is fetched.
func (p *Pipeline) loadTrust() {
	if err := EnsureKeyring(p.cfg, p.fetcher); err != nil {
		debugf("keyring unavailable: %v\n", err)
		return
	}
	v, err := LoadKeyring(p.cfg.KeyringPath)
	if err != nil {
		colArrow.Print("-> ")
		colWarn.Printf("Warning: %v\n", err)
		return
	}
	p.verifier = v
}

// resolveSpecs turns the role sequence into concrete PackageSpecs. Explicit
// version overrides always win; latest mode resolves from the mirror listing
// and falls back to the pinned default when resolution fails.
func (p *Pipeline) resolveSpecs() ([]PackageSpec, error) {
	var specs []PackageSpec
	for _, role := range pipelineRoles(p.cfg) {
		version, err := p.versionFor(role)
		if err != nil {
			return nil, err
		}
		specs = append(specs, newPackageSpec(role, version, p.cfg))
	}
	return specs, nil
}

func (p *Pipeline) versionFor(role Role) (string, error) {
	name := role.PackageName()
	override, overridden := p.cfg.Overrides[name]
	if overridden && override != "" {
		return override, nil
	}

	wantLatest := p.cfg.Latest || overridden
	if wantLatest {
		v := resolveLatest(p.client, role.listingURL(p.cfg), name+"-")
		if v != "" {
			return v, nil
		}
		fallback, ok := defaultVersions[name]
		if !ok {
			return "", fmt.Errorf("%w for %s and no default to fall back to", errResolveFailed, name)
		}
		colArrow.Print("-> ")
		colWarn.Printf("Warning: could not resolve latest %s, falling back to %s\n", name, fallback)
		return fallback, nil
	}

	v, ok := defaultVersions[name]
	if !ok {
		return "", fmt.Errorf("no default version for %s", name)
	}
	return v, nil
}

// DumpLatest resolves and prints the latest-version table, one package per
// line, then returns. Used by the versions command.
func (p *Pipeline) DumpLatest() {
	resolved := resolveAll(p.client, p.cfg)

	var names []string
	for name := range resolved {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		v := resolved[name]
		colArrow.Print("-> ")
		if v == "" {
			colWarn.Printf("%-10s (resolution failed, default %s)\n", name, defaultVersions[name])
			continue
		}
		cPrintf(colSuccess, "%-10s %s\n", name, v)
	}
}
