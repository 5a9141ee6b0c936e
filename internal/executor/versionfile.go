package executor

import (
	"encoding/json"
	"os"
)

// ModelVersionsPath is where the Executor persists its loaded models'
// versions on startup, read back by cmd/worker-healthcheck to detect model
// drift.
const ModelVersionsPath = "/tmp/runid_models.json"

func persistModelVersions(versions map[string]string) error {
	buf, err := json.Marshal(versions)
	if err != nil {
		return err
	}
	return os.WriteFile(ModelVersionsPath, buf, 0o644)
}

// ReadModelVersions loads the persisted versions file, used by the
// health-check probe binary.
func ReadModelVersions(path string) (map[string]string, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out map[string]string
	if err := json.Unmarshal(buf, &out); err != nil {
		return nil, err
	}
	return out, nil
}
