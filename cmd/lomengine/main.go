// Command lomengine is the process entry point for the LoM anomaly
// mitigation orchestration engine: a thin main delegating construction,
// signal wiring, and exit-code mapping to the internal engine type.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sonic-net/lom-engine/internal/config"
	"github.com/sonic-net/lom-engine/pkg/engine"
	"github.com/sonic-net/lom-engine/pkg/shared/logging"
)

// Exit codes (spec.md §6 "Exit codes": 0 clean; nonzero on fatal init
// error).
const (
	exitOK             = 0
	exitConfigError    = 1
	exitTransportError = 2
	exitLoggerError    = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	log, err := logging.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start logger: %v\n", err)
		return exitLoggerError
	}

	cfgDir := config.ResolveConfigPath()
	eng, err := engine.New(cfgDir, log)
	if err != nil {
		log.Error(err, "fatal error constructing engine", "config_dir", cfgDir)
		return exitConfigError
	}

	watcher, err := config.NewWatcher(cfgDir, log)
	if err != nil {
		log.Error(err, "config file watcher unavailable, continuing without it", "config_dir", cfgDir)
	} else {
		defer watcher.Close()
		go func() {
			for range watcher.Events() {
				eng.Reload()
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	go func() {
		for {
			select {
			case <-sighup:
				eng.Reload()
			case <-ctx.Done():
				return
			}
		}
	}()

	if err := eng.Run(ctx); err != nil {
		log.Error(err, "engine exited with an error")
		return exitTransportError
	}
	return exitOK
}
