package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/majiajue/longbridge-sub000/internal/bootstrap"
)

func main() {
	container := bootstrap.NewContainer()
	container.MustInit()

	log := container.Log
	log.Infof("Starting %s in %s mode", container.Config.App.Name, container.Config.App.Env)

	if err := container.Start(); err != nil {
		log.Errorf("Startup failed: %v", err)
		container.Shutdown()
		os.Exit(1)
	}

	// Block until a shutdown signal arrives or a fatal component error
	// cancels the application context.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Infof("Received signal: %v", sig)
	case <-container.Context.Done():
		log.Warn("Application context cancelled")
	}

	container.Shutdown()
}
