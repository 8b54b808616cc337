package main

import (
	"context"
	"os/signal"
	"syscall"

	beacon "github.com/putto11262002/beacon/app"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGHUP)
	defer cancel()

	app := beacon.New(ctx, nil)
	app.Start()
}
