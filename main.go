/*
Headless testbed: drives the device with a churn workload until the frame
limit is reached or the process is interrupted.
*/
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/spaghettifunk/anima-gpu/engine"
	"github.com/spaghettifunk/anima-gpu/engine/core"
	"github.com/spaghettifunk/anima-gpu/testbed"
)

func main() {
	configPath := flag.String("config", "anima.toml", "application config file")
	backend := flag.String("backend", "", "override the backend (soft or vulkan)")
	frames := flag.Uint64("frames", 0, "override the frame limit")
	watch := flag.Bool("watch", true, "reload the config file when it changes")
	flag.Parse()

	cfg, err := engine.LoadApplicationConfig(*configPath)
	if errors.Is(err, os.ErrNotExist) {
		core.LogWarn("%s not found, using defaults", *configPath)
		cfg, err = engine.DefaultApplicationConfig(), nil
		*watch = false
	}
	if err != nil {
		core.LogFatal("%v", err)
	}
	if *backend != "" {
		cfg.Backend = engine.BackendType(*backend)
	}
	if *frames > 0 {
		cfg.FrameLimit = *frames
	}

	tb := testbed.NewTestGame(testbed.DefaultChurn())
	e, err := engine.New(tb.Workload, cfg)
	if err != nil {
		core.LogFatal("%v", err)
	}
	if err := e.Initialize(); err != nil {
		_ = e.Shutdown()
		core.LogFatal("%v", err)
	}

	if *watch {
		cw, err := engine.WatchConfig(*configPath, e.Reload)
		if err != nil {
			core.LogWarn("config hot reload disabled: %v", err)
		} else {
			defer cw.Close()
		}
	}

	// capture sigterm and other system calls here
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)
	defer stop()

	runErr := e.Run(ctx)
	if err := e.Shutdown(); err != nil {
		core.LogError("shutdown: %v", err)
	}
	if runErr != nil {
		core.LogFatal("%v", runErr)
	}
}
