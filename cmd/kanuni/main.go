package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/oremus-labs/kanuni/internal/kanunicli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := kanunicli.Execute(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
