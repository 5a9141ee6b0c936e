// Command gateway runs the HTTP front-end: admits client requests,
// maintains the queue registry, and publishes jobs to the broker.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/prodest/prodest-ml-stack/internal/broker"
	"github.com/prodest/prodest-ml-stack/internal/config"
	"github.com/prodest/prodest-ml-stack/internal/gatewayapi"
	"github.com/prodest/prodest-ml-stack/internal/ratelimit"
	"github.com/prodest/prodest-ml-stack/internal/registry"
	"github.com/prodest/prodest-ml-stack/internal/store"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using system environment variables")
	} else {
		log.Println(".env file loaded")
	}

	cfg, err := config.LoadGateway()
	if err != nil {
		log.Printf("configuration error: %v", err)
		config.WriteSentinel(err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	st, err := store.Connect(ctx, cfg.MongoURI())
	cancel()
	if err != nil {
		log.Printf("store connect failed: %v", err)
		config.WriteSentinel(err)
		os.Exit(1)
	}
	defer st.Disconnect(context.Background())

	pub, err := broker.Dial(cfg.AMQPURI())
	if err != nil {
		log.Printf("broker connect failed: %v", err)
		config.WriteSentinel(err)
		os.Exit(1)
	}
	defer pub.Close()

	reg := registry.New(st, registry.DefaultRefreshInterval)
	if err := reg.ForceReload(context.Background()); err != nil {
		log.Printf("initial registry load failed, starting empty: %v", err)
	}
	announcer := registry.NewAnnouncer(st, reg)

	deps := &gatewayapi.Deps{
		Store:         st,
		Publisher:     pub,
		Registry:      reg,
		Announcer:     announcer,
		Throttle:      ratelimit.New(),
		ClientToken:   cfg.APIToken,
		WorkerToken:   cfg.APITokenWorkers,
		AdvworkidCred: cfg.AdvworkidCred,
		StackVersion:  cfg.StackVersion,
	}
	router := gatewayapi.NewRouter(deps)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("gateway listening on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	<-quit
	log.Println("shutting down gateway...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("server forced to shutdown: %v", err)
	}

	log.Println("gateway exited gracefully")
}
