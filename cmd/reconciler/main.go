package main

import (
	"fmt"
	"os"

	"github.com/ixqt-ai/cloud-reconciler/internal/app"
)

func main() {
	a, err := app.New()
	if err != nil {
		fmt.Printf("failed to initialize reconciler: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	a.Start()

	addr := ":" + a.Cfg.Port
	fmt.Printf("reconciler listening on %s\n", addr)
	if err := a.Run(addr); err != nil {
		a.Log.Warn("server failed", "error", err)
	}
}
