// Command worker is the Executor: announces itself to the Gateway and
// consumes jobs from its dedicated broker queue. Which models this process
// hosts, and how they are constructed, is a user-supplied model-loader
// concern; this binary wires in the bundled reference LLM model for every
// name listed in WORKER_MODELS as a stand-in for that loader.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/prodest/prodest-ml-stack/internal/config"
	"github.com/prodest/prodest-ml-stack/internal/executor"
	"github.com/prodest/prodest-ml-stack/internal/mlmodel"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using system environment variables")
	} else {
		log.Println(".env file loaded")
	}

	cfg, err := config.LoadExecutor()
	if err != nil {
		log.Printf("configuration error: %v", err)
		config.WriteSentinel(err)
		os.Exit(1)
	}

	models, err := loadModels()
	if err != nil {
		log.Printf("model loader failed: %v", err)
		config.WriteSentinel(err)
		os.Exit(1)
	}

	ctx := context.Background()
	ex, err := executor.New(ctx, executor.Config{
		APIURL:        cfg.APIURL,
		WorkerID:      cfg.WorkerID,
		WorkerToken:   cfg.APITokenWorkers,
		AdvworkidCred: cfg.AdvworkidCred,
		AMQPURI:       cfg.AMQPURI(),
		Models:        models,
	})
	if err != nil {
		log.Printf("executor startup failed: %v", err)
		config.WriteSentinel(err)
		os.Exit(1)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go ex.Start()

	<-quit
	log.Println("shutting down worker...")
	ex.Stop()
}

func loadModels() (mlmodel.Registry, error) {
	names := strings.Split(os.Getenv("WORKER_MODELS"), ",")
	reg := mlmodel.Registry{}
	llmCfg := mlmodel.LLMConfigFromEnv()
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		model, err := mlmodel.NewLLMModel(llmCfg)
		if err != nil {
			return nil, err
		}
		reg[name] = model
	}
	return reg, nil
}
