// Command example serves a todo list whose state lives on the server.
package main

import (
	"bytes"
	"context"
	_ "embed"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/pthm/statesync"
	"github.com/pthm/statesync/server"
)

//go:embed components.json
var componentsJSON []byte

func main() {
	configPath := flag.String("config", "", "YAML or TOML configuration file")
	flag.Parse()

	cfg := statesync.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = statesync.LoadConfig(*configPath); err != nil {
			log.Fatal(err)
		}
	}
	cfg.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))

	tree, err := statesync.LoadTree(bytes.NewReader(componentsJSON))
	if err != nil {
		log.Fatal(err)
	}
	initial, err := initialState()
	if err != nil {
		log.Fatal(err)
	}

	app := statesync.NewApp(cfg, initial, tree)
	registerHandlers(app)

	srv, err := server.New(app, nil)
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := srv.Run(ctx); err != nil {
		log.Fatal(err)
	}
}
