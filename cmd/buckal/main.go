package main

import (
	"bytes"
	"context"
	_ "embed"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"maps"
	"os"
	"os/signal"
	"runtime/debug"
	"slices"
	"strings"
	"time"

	"github.com/amterp/color"
	"github.com/rhansen/buckal"
	"github.com/rhansen/buckal/internal/command"
	"github.com/rhansen/buckal/internal/logging"
)

//go:embed buckal.1.in
var man []byte

type config struct {
	load buckal.LoadOptions
	sync buckal.SyncOptions
}

func ver() string {
	bi, ok := debug.ReadBuildInfo()
	if !ok || bi.Main.Version == "(devel)" {
		return ""
	}
	return bi.Main.Version
}

func showMan(ctx context.Context) error {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return fmt.Errorf("failed to fetch Go build information")
	}
	date := ""
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.time":
			when, err := time.Parse(time.RFC3339, s.Value)
			if err != nil {
				return fmt.Errorf("failed to parse vcs.time %q: %w", s.Value, err)
			}
			date = when.Format(time.DateOnly)
		}
	}
	man := bytes.ReplaceAll(man, []byte("%DATE%"), []byte(date))
	man = bytes.ReplaceAll(man, []byte("%VERSION%"), []byte(ver()))
	if err := command.Run(ctx, ".", bytes.NewReader(man), "man", "-l", "-"); err != nil {
		return fmt.Errorf("man failed: %w", err)
	}
	return nil
}

func run(ctx context.Context, cfg *config) error {
	p, err := buckal.LoadProject(ctx, cfg.load)
	if err != nil {
		return err
	}
	_, err = buckal.Sync(ctx, p, cfg.sync)
	return err
}

var slogLevel = func() *slog.LevelVar {
	lvl := &slog.LevelVar{}
	lvl.Set(logging.LevelInfo)
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(h))
	return lvl
}()

func choiceFlag[T any](p *T, name string, choices map[string]T, dflt string, usage string) {
	cstr := strings.Join(slices.Sorted(maps.Keys(choices)), ", ")
	var ok bool
	if *p, ok = choices[dflt]; !ok {
		panic(fmt.Errorf("invalid default for %v option: %v", dflt, name))
	}
	usage += fmt.Sprintf(" (one of: %v; default: %v)", cstr, dflt)
	flag.Func(name, usage, func(arg string) error {
		if arg == "" {
			arg = dflt
		}
		v, ok := choices[arg]
		if !ok {
			return fmt.Errorf("expected one of: %v", cstr)
		}
		*p = v
		return nil
	})
}

func parseFlags(ctx context.Context) *config {
	cfg := &config{sync: buckal.SyncOptions{Out: os.Stdout}}

	bumpLogLevel := func(lower bool) {
		slog.Debug("log level pre-change", "level", slogLevel.Level())
		slogLevel.Set(logging.BumpLevel(slogLevel.Level(), lower))
		slog.Debug("log level post-change", "level", slogLevel.Level())
	}
	setLogLevel := func(arg string) error {
		lvl, err := logging.StringToLevel(arg)
		if err != nil {
			return err
		}
		slogLevel.Set(lvl)
		return nil
	}
	flag.BoolFunc("v", "Increase log verbosity, or set it to `level`.", func(arg string) error {
		switch arg {
		case "", "true":
			bumpLogLevel(true)
		default:
			return setLogLevel(arg)
		}
		return nil
	})
	flag.BoolFunc("q", "Decrease log verbosity, or set it to `level`.", func(arg string) error {
		switch arg {
		case "", "true":
			bumpLogLevel(false)
		default:
			return setLogLevel(arg)
		}
		return nil
	})

	colorChoices := map[string]bool{
		"auto":   color.NoColor,
		"never":  true,
		"always": false,
	}
	choiceFlag(&color.NoColor, "color", colorChoices, "auto",
		"Output colors according to `mode`.")
	flag.StringVar(&cfg.load.ManifestPath, "manifest-path", "",
		"Read the cargo workspace from the Cargo.toml at `path` instead of searching the current directory.")
	flag.StringVar(&cfg.load.Root, "root", "",
		"Use `dir` as the buck2 project root instead of asking buck2.")
	flag.StringVar(&cfg.load.Buck2, "buck2", "",
		"Run `program` as buck2, including when looking for the project root.")
	flag.StringVar(&cfg.load.Target, "target", "",
		"Evaluate platform-specific dependencies for `triple` instead of the host.")
	flag.BoolVar(&cfg.sync.NoMerge, "no-merge", false,
		"Overwrite existing BUCK files instead of keeping manual edits.")
	flag.BoolVar(&cfg.sync.Force, "force", false,
		"Ignore the cache and regenerate every package.")
	flag.BoolVar(&cfg.sync.DryRun, "dry-run", false,
		"Print the changes as unified diffs without writing anything.")
	flag.BoolFunc("man", "Show the usage manual and exit.", func(_ string) error {
		if err := showMan(ctx); err != nil {
			log.Fatal(err)
		}
		os.Exit(0)
		return nil
	})
	help := func(string) error {
		// Help that was asked for goes to standard output so it can be piped to a pager.
		flag.CommandLine.SetOutput(os.Stdout)
		flag.Usage()
		os.Exit(0)
		return nil
	}
	helpUsage := "Print usage information and exit."
	flag.BoolFunc("h", helpUsage, help)
	flag.BoolFunc("help", helpUsage, help)
	flag.BoolFunc("version", "Print the version and exit.", func(string) error {
		v := ver()
		if v == "" {
			log.Fatal("the Go build information is unavalable; try passing the \"-buildvcs=true\" build option to go")
		}
		fmt.Printf("%s\n", v)
		os.Exit(0)
		return nil
	})
	flag.Parse()
	if flag.NArg() != 0 {
		log.Fatalf("unexpected arguments: %q", flag.Args())
	}
	return cfg
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	cfg := parseFlags(ctx)
	if err := run(ctx, cfg); err != nil {
		slog.ErrorContext(ctx, "failed", "error", err)
		os.Exit(1)
	}
}
