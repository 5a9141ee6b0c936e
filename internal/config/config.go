// Package config loads and validates the environment-variable configuration
// shared by the gateway and executor binaries.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// SentinelPath is the fixed location the container health-check probe polls
// for to decide the process is unhealthy.
const SentinelPath = "/tmp/error_8EDo2OWK9Sd7A4aN0uni.err"

// WriteSentinel drops a marker file at SentinelPath so the orchestrator's
// probe can flag the container unhealthy. Failures to write it are logged,
// never fatal; the process is already on its way out.
func WriteSentinel(reason error) {
	msg := "startup failure"
	if reason != nil {
		msg = reason.Error()
	}
	if err := os.WriteFile(SentinelPath, []byte(msg+"\n"), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write sentinel file %s: %v\n", SentinelPath, err)
	}
}

// Common holds the environment shared by both the gateway and the executor.
type Common struct {
	RabbitMQServer  string
	RabbitMQPort    int
	RabbitMQUser    string
	RabbitMQPass    string
	DBServerName    string
	DBAuthSource    string
	MongoRootUser   string
	MongoRootPass   string
	StackVersion    string
	APIToken        string
	APITokenWorkers string
	AdvworkidCred   string
}

// Gateway holds the gateway-specific environment on top of Common.
type Gateway struct {
	Common
	Port string
}

// Executor holds the executor-specific environment on top of Common.
type Executor struct {
	Common
	APIURL   string
	WorkerID string
}

func loadCommon() (Common, error) {
	var c Common
	var missing []string

	get := func(name string) string {
		v := os.Getenv(name)
		if v == "" {
			missing = append(missing, name)
		}
		return v
	}

	c.RabbitMQServer = get("RABBITMQ_SERVER")
	portStr := get("RABBITMQ_PORT")
	c.RabbitMQUser = get("RABBITMQ_DEFAULT_USER")
	c.RabbitMQPass = get("RABBITMQ_DEFAULT_PASS")
	c.DBServerName = get("DB_SERVER_NAME")
	c.DBAuthSource = get("DB_AUTH_SOURCE")
	c.MongoRootUser = get("MONGO_INITDB_ROOT_USERNAME")
	c.MongoRootPass = get("MONGO_INITDB_ROOT_PASSWORD")
	c.StackVersion = get("STACK_VERSION")
	c.APIToken = get("API_TOKEN")
	c.APITokenWorkers = get("API_TOKEN_WORKERS")
	c.AdvworkidCred = get("ADVWORKID_CREDENTIAL")

	if len(missing) > 0 {
		return c, fmt.Errorf("missing required environment variables: %v", missing)
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return c, fmt.Errorf("RABBITMQ_PORT must be an integer, got %q: %w", portStr, err)
	}
	c.RabbitMQPort = port

	return c, nil
}

// LoadGateway reads and validates the gateway's environment. On failure the
// caller is expected to write the sentinel file and exit non-zero.
func LoadGateway() (Gateway, error) {
	common, err := loadCommon()
	if err != nil {
		return Gateway{}, err
	}
	port := os.Getenv("PORT")
	if port == "" {
		port = "8070"
	}
	return Gateway{Common: common, Port: port}, nil
}

// LoadExecutor reads and validates the executor's environment.
func LoadExecutor() (Executor, error) {
	common, err := loadCommon()
	if err != nil {
		return Executor{}, err
	}
	var missing []string
	get := func(name string) string {
		v := os.Getenv(name)
		if v == "" {
			missing = append(missing, name)
		}
		return v
	}
	apiURL := get("API_URL")
	workerID := get("WORKER_ID_001")
	if len(missing) > 0 {
		return Executor{}, fmt.Errorf("missing required environment variables: %v", missing)
	}
	return Executor{Common: common, APIURL: apiURL, WorkerID: workerID}, nil
}

// MongoURI builds the connection string for the document store from the
// shared environment, mirroring the official mongo-driver URI format.
func (c Common) MongoURI() string {
	return fmt.Sprintf("mongodb://%s:%s@%s/?authSource=%s",
		c.MongoRootUser, c.MongoRootPass, c.DBServerName, c.DBAuthSource)
}

// AMQPURI builds the broker connection string.
func (c Common) AMQPURI() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%d/", c.RabbitMQUser, c.RabbitMQPass, c.RabbitMQServer, c.RabbitMQPort)
}
