// Command worker-healthcheck is the container orchestrator's probe for the
// Executor: it recomputes the worker's current model versions and compares
// them against what was persisted at startup, exiting 1 on drift so the
// container gets recycled. The versions snapshot is the JSON file the
// worker binary writes at startup.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/prodest/prodest-ml-stack/internal/executor"
	"github.com/prodest/prodest-ml-stack/internal/mlmodel"
)

func main() {
	_ = godotenv.Load()

	persisted, err := executor.ReadModelVersions(executor.ModelVersionsPath)
	if err != nil {
		log.Printf("healthcheck: could not read %s: %v", executor.ModelVersionsPath, err)
		os.Exit(1)
	}

	current, err := currentModelVersions()
	if err != nil {
		log.Printf("healthcheck: could not recompute model versions: %v", err)
		os.Exit(1)
	}

	var stale []string
	for name, version := range current {
		if persisted[name] != version {
			stale = append(stale, name)
		}
	}

	if len(stale) > 0 {
		log.Printf("healthcheck: models need reloading: %v", stale)
		os.Exit(1)
	}

	log.Println("healthcheck: all models are at their latest version")
	os.Exit(0)
}

func currentModelVersions() (map[string]string, error) {
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
			return nil, fmt.Errorf("model %q: %w", name, err)
		}
		reg[name] = model
	}
	return reg.Versions(context.Background())
}
