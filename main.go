package main

import (
	"context"
	"evledger/internal/config"
	"evledger/server"
	"flag"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("conf", "config.yml", "path to config file")
	flag.Parse()

	conf, err := config.Load(*configPath)
	if err != nil {
		log.Println("configuration load failed", err)
		return
	}

	centralSystem, err := server.NewCentralSystem(conf)
	if err != nil {
		log.Println("central system initialization failed", err)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err = centralSystem.Start(ctx); err != nil {
		log.Println("central system stopped", err)
	}
}
