package crossforge

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gookit/color"
)

// printHelp prints the commands table
func printHelp() {
	colSuccess.Println("Usage: crossforge <command> [arguments]")
	colSuccess.Println("Run 'crossforge <command> -h' for command options")
	fmt.Println()
	colInfo.Println("Available Commands:")

	type cmdInfo struct {
		Cmd  string
		Args string
		Desc string
	}
	cmds := []cmdInfo{
		{"build, b", "[options]", "Build and install the cross toolchain"},
		{"versions, v", "", "Resolve and print the latest upstream versions"},
		{"log", "[role] [phase]", "TUI viewer for the rotated build logs"},
		{"version, --version", "", "Version information"},
		{"help", "", "Show this help"},
	}

	maxLen := 0
	for _, c := range cmds {
		length := len(c.Cmd) + len(c.Args)
		if c.Args != "" {
			length++
		}
		if length > maxLen {
			maxLen = length
		}
	}
	columnWidth := maxLen + 4

	for _, c := range cmds {
		var usageString string
		if c.Args != "" {
			usageString = fmt.Sprintf("  %s %s", c.Cmd, c.Args)
		} else {
			usageString = fmt.Sprintf("  %s", c.Cmd)
		}

		fmt.Print("  ")
		color.Bold.Print(c.Cmd)
		if c.Args != "" {
			fmt.Print(" ")
			color.Cyan.Print(c.Args)
		}

		pad := columnWidth - len(usageString)
		if pad < 1 {
			pad = 1
		}
		fmt.Print(strings.Repeat(" ", pad))
		colInfo.Println(c.Desc)
	}
	fmt.Println()
}

// Main is the CLI entrypoint for crossforge. It returns the process exit
// code.
func Main() int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigs:
			colArrow.Print("\n-> ")
			color.Danger.Printf("Received %v. Cancelling process gracefully\n", sig)
			cancel()

			// Give the child process group a moment to die.
			time.Sleep(100 * time.Millisecond)

			select {
			case <-sigs:
				colArrow.Print("\n-> ")
				color.Danger.Printf("Second interrupt received. Forcing immediate exit.\n")
				os.Exit(130)
			case <-time.After(2 * time.Second):
				colArrow.Print("\n-> ")
				color.Danger.Printf("Graceful shutdown timeout. Exiting.\n")
				os.Exit(130)
			}
		case <-ctx.Done():
		}
	}()

	configPath := ConfigFile
	if root := os.Getenv("CROSSFORGE_ROOT"); root != "" {
		configPath = filepath.Join(root, "crossforge.conf")
	}
	values, err := loadConfValues(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to read %s: %v\n", configPath, err)
	}
	cfg := NewConfig(values)

	// build is the default command: bare invocations and bare flags both
	// run the pipeline.
	command := "build"
	buildArgs := []string{}
	if len(os.Args) >= 2 {
		if strings.HasPrefix(os.Args[1], "-") && os.Args[1] != "-h" && os.Args[1] != "--help" && os.Args[1] != "--version" {
			buildArgs = os.Args[1:]
		} else {
			command = os.Args[1]
			buildArgs = os.Args[2:]
		}
	}

	switch command {
	case "build", "b":
		if err := runBuildCommand(ctx, buildArgs, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}

	case "versions", "v":
		NewPipeline(ctx, cfg).DumpLatest()

	case "log":
		if err := runLogCommand(buildArgs, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}

	case "version", "--version":
		colArrow.Print("-> ")
		colSuccess.Printf("crossforge %s (built %s)\n", version, buildDate)

	case "help", "-h", "--help":
		printHelp()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printHelp()
		return 1
	}
	return 0
}

// runBuildCommand applies the build flags to the configuration and runs the
// pipeline.
func runBuildCommand(ctx context.Context, args []string, cfg *Config) error {
	if err := applyBuildFlags(args, cfg); err != nil {
		return err
	}
	return NewPipeline(ctx, cfg).Run()
}

func applyBuildFlags(args []string, cfg *Config) error {
	fs := flag.NewFlagSet("build", flag.ContinueOnError)
	prefix := fs.String("prefix", "", "install prefix for the cross tools")
	latest := fs.Bool("latest", false, "resolve the latest upstream version of every package")
	withGDB := fs.Bool("gdb", false, "also build the debugger")
	jobs := fs.Int("jobs", 0, "make parallelism (0 = detected processor count)")
	idle := fs.Bool("idle", false, "build at idle priority with half the processors")
	destdir := fs.Bool("destdir", false, "stage installs through a DESTDIR root")
	checks := fs.Bool("check", false, "run the bundled math library self-checks")
	binutilsVer := fs.String("binutils-version", "", "binutils version ('latest' to resolve)")
	gccVer := fs.String("gcc-version", "", "gcc version ('latest' to resolve)")
	newlibVer := fs.String("newlib-version", "", "newlib version ('latest' to resolve)")
	gdbVer := fs.String("gdb-version", "", "gdb version ('latest' to resolve)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected argument: %s", fs.Arg(0))
	}

	if *prefix != "" {
		cfg.Prefix = *prefix
	}
	cfg.Latest = cfg.Latest || *latest
	cfg.WithGDB = cfg.WithGDB || *withGDB
	if *jobs > 0 {
		cfg.Jobs = *jobs
	}
	cfg.IdleBuild = cfg.IdleBuild || *idle
	cfg.UseDestDir = cfg.UseDestDir || *destdir
	cfg.RunChecks = cfg.RunChecks || *checks

	// An override of "latest" pins nothing and requests resolution for that
	// package only; any other value pins the version outright.
	for name, val := range map[string]string{
		"binutils": *binutilsVer,
		"gcc":      *gccVer,
		"newlib":   *newlibVer,
		"gdb":      *gdbVer,
	} {
		if val == "" {
			continue
		}
		if val == "latest" {
			cfg.Overrides[name] = ""
		} else {
			cfg.Overrides[name] = val
		}
	}
	// Asking for a debugger version implies building the debugger.
	if *gdbVer != "" {
		cfg.WithGDB = true
	}

	return nil
}
