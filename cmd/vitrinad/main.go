package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/fx"

	"github.com/lcastillo/vitrina/internal/config"
	"github.com/lcastillo/vitrina/internal/daemon"
	"github.com/lcastillo/vitrina/internal/paths"
)

func main() {
	dataDirFlag := flag.String("data-dir", "", "data directory (overrides config and VITRINA_DATA_DIR)")
	listenFlag := flag.String("listen", "", "listen address (overrides config and VITRINA_LISTEN_ADDR)")
	flag.Parse()

	dataDir := *dataDirFlag
	if dataDir == "" {
		dataDir = paths.DefaultDataDir()
	}

	cfg, err := config.Load(paths.ConfigPath(dataDir))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if *dataDirFlag != "" {
		cfg.DataDir = *dataDirFlag
	}
	if cfg.DataDir == "" {
		cfg.DataDir = dataDir
	}
	if *listenFlag != "" {
		cfg.ListenAddr = *listenFlag
	}

	app := fx.New(
		daemon.Module(daemon.Params{Config: cfg}),
	)

	app.Run()
}
