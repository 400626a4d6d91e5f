package main

import (
	"log/slog"
	"os"

	"github.com/ClearskyLabs/calsync/runtime"
)

func main() {
	rt, err := runtime.New(os.Args[1:], "calsync.yaml")
	if err != nil {
		slog.Error("Failed to initialize runtime", "error", err)
		os.Exit(1)
	}

	if err := rt.Run(); err != nil {
		slog.Error("Runtime exited with error", "error", err)
		os.Exit(1)
	}
}
