// Command remoteworkerd is the reference remote-worker process: it serves
// the net/rpc "Worker" liveness/handshake protocol that dispatcherd dials,
// accepting every RemoteStartBuild by default (actual build execution is
// the dispatcher-side Build abstraction's job, not the worker's).
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackhou/buildbot/remoteworker/testserver"
)

func main() {
	addr := ":9090"
	if len(os.Args) > 1 {
		addr = os.Args[1]
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	srv := testserver.NewServer()
	actualAddr, err := srv.Listen(addr)
	if err != nil {
		logger.Error("failed to listen", "addr", addr, "error", err)
		os.Exit(1)
	}
	fmt.Printf("remoteworkerd listening on %s\n", actualAddr)
	logger.Info("remoteworkerd started", "addr", actualAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutting down", "signal", sig.String(), "active_builds", srv.ActiveBuilds())
}
