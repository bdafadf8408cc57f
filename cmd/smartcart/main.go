package main

import (
	"log"

	"github.com/joho/godotenv"

	"github.com/rojaria/smartcart/internal/auth"
	"github.com/rojaria/smartcart/internal/config"
	"github.com/rojaria/smartcart/internal/events"
	"github.com/rojaria/smartcart/internal/gateway"
	"github.com/rojaria/smartcart/internal/handler"
	"github.com/rojaria/smartcart/internal/ledger"
	"github.com/rojaria/smartcart/internal/logger"
	"github.com/rojaria/smartcart/internal/service"
	"github.com/rojaria/smartcart/internal/state"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// optional .env for local development
	_ = godotenv.Load()

	cfg := config.GetConfig()

	zaplog, err := logger.NewZapLog(cfg.Logger)
	if err != nil {
		return err
	}

	ledgerStore, err := ledger.NewLedger(cfg.Ledger)
	if err != nil {
		return err
	}
	defer ledgerStore.Close()

	stateStore, err := state.NewStore(cfg.State)
	if err != nil {
		return err
	}
	defer stateStore.Close()

	publisher, err := events.NewPublisher(cfg.Events)
	if err != nil {
		return err
	}
	defer publisher.Close()

	gatewayClient := gateway.NewClient(cfg.Gateway)

	auth := auth.NewAuth(cfg.Auth, stateStore)
	service := service.NewService(stateStore, ledgerStore, gatewayClient, publisher, zaplog)

	return handler.Serve(cfg.Handler, auth, service, zaplog)
}
