package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/pthm/statesync"
	"github.com/pthm/statesync/lib/generator"
	"github.com/pthm/statesync/server"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "serve":
		if err := runServe(args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
	case "generate":
		if err := runGenerate(args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
	case "clean":
		if err := runClean(args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
	case "version":
		fmt.Printf("statesync version %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`statesync - server-side state for browser UIs

Usage:
  statesync <command> [arguments]

Commands:
  serve [flags]         Serve a component tree and initial state
  generate [packages]   Generate typed state accessors (*_state.go)
  clean [packages]      Remove generated files (*_state.go)
  version               Print version
  help                  Show this help

Options for serve:
  -config file          YAML or TOML configuration
  -components file      Component tree JSON (default components.json)
  -state file           Initial state JSON

Options for generate:
  --dry-run             Show what would be generated without writing files

Examples:
  statesync serve -config app.yaml -state state.json
  statesync generate ./...                Generate for all packages
  statesync generate --dry-run ./...      Preview generation
  statesync clean ./...                   Remove all generated files`)
}

// runServe serves a handler-less app: bindings still write to state, but
// no user functions are registered.
func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", "", "YAML or TOML configuration file")
	componentsPath := fs.String("components", "components.json", "component tree JSON file")
	statePath := fs.String("state", "", "initial state JSON file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := statesync.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = statesync.LoadConfig(*configPath); err != nil {
			return err
		}
	}
	cfg.Logger = slog.New(slog.NewTextHandler(os.Stderr, nil))

	tree, err := statesync.LoadTreeFile(*componentsPath)
	if err != nil {
		return err
	}
	initial, err := loadState(*statePath)
	if err != nil {
		return err
	}

	app := statesync.NewApp(cfg, initial, tree)
	srv, err := server.New(app, nil)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return srv.Run(ctx)
}

func loadState(path string) (*statesync.RootState, error) {
	if path == "" {
		return statesync.NewRootState(nil, nil)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}
	v, err := statesync.DecodeJSON(data)
	if err != nil {
		return nil, fmt.Errorf("parse state %s: %w", path, err)
	}
	obj, ok := v.(*statesync.Object)
	if !ok {
		return nil, errors.New("initial state must be a JSON object")
	}
	return statesync.NewRootState(nil, obj.ToMap())
}

func runGenerate(args []string) error {
	var dryRun bool
	var patterns []string

	for _, arg := range args {
		if arg == "--dry-run" {
			dryRun = true
		} else {
			patterns = append(patterns, arg)
		}
	}

	if len(patterns) == 0 {
		patterns = []string{"./..."}
	}

	gen := generator.New(generator.Options{
		DryRun: dryRun,
		Out:    os.Stdout,
	})

	return gen.Generate(patterns...)
}

func runClean(args []string) error {
	patterns := args
	if len(patterns) == 0 {
		patterns = []string{"./..."}
	}

	gen := generator.New(generator.Options{Out: os.Stdout})
	return gen.Clean(patterns...)
}
