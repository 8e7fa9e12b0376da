package main

import (
	"context"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	log "github.com/sirupsen/logrus"

	"prism-board/api"
	"prism-board/config"
	"prism-board/domain"
	"prism-board/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}
	if cfg.StoreKind == storage.KindServer {
		log.Fatal("STORE_KIND=server would point the board server at itself")
	}

	logger := log.New()
	logger.SetLevel(log.GetLevel())

	opts, err := cfg.StoreOptions(cfg.RedisClient())
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	opts.Logger = logger
	store, err := storage.New(opts)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}

	e := echo.New()
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, echo.HeaderContentEncoding},
	}))

	srv := api.Register(e, store, logger, api.Options{Credential: cfg.ServerCredential})

	// Other instances publish their writes on the redis channel.
	if sub, ok := store.(storage.Subscriber); ok && cfg.StoreKind == storage.KindRedis {
		unsubscribe, err := sub.Subscribe(context.Background(), func(domain.Document) {
			srv.Broker().Notify()
		}, func(err error) {
			logger.WithError(err).Error("board change subscription dropped")
		})
		if err != nil {
			log.Fatalf("subscribe: %v", err)
		}
		defer unsubscribe()
	}

	log.WithFields(log.Fields{"store": cfg.StoreKind, "port": cfg.ServerPort}).Info("board server starting")
	e.Logger.Fatal(e.Start(":" + cfg.ServerPort))
}
