// Package executor is the worker process: it announces itself and its
// models to the Gateway, then consumes jobs from its dedicated broker queue
// and dispatches them to in-process models.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/prodest/prodest-ml-stack/internal/broker"
	"github.com/prodest/prodest-ml-stack/internal/jobmodel"
	"github.com/prodest/prodest-ml-stack/internal/mlmodel"
)

// Executor owns one broker connection and dispatches deliveries to the
// models it was configured with.
type Executor struct {
	workerID    string
	apiURL      string
	workerToken string

	models   mlmodel.Registry
	consumer *broker.Consumer
	http     *http.Client

	shutdown chan struct{}
	wg       sync.WaitGroup
}

// Config bundles everything New needs to wire up an Executor.
type Config struct {
	APIURL        string
	WorkerID      string
	WorkerToken   string
	AdvworkidCred string
	AMQPURI       string
	Models        mlmodel.Registry
}

// New runs the Executor's startup sequence: computes
// model versions, persists them, announces to the Gateway, and dials the
// broker. It returns an error if computing the versions, the announcement,
// or the broker dial fails; the caller is expected to write the sentinel
// file and exit non-zero. A failure to write the versions file is only
// logged.
func New(ctx context.Context, cfg Config) (*Executor, error) {
	e := &Executor{
		workerID:    cfg.WorkerID,
		apiURL:      cfg.APIURL,
		workerToken: cfg.WorkerToken,
		models:      cfg.Models,
		http:        &http.Client{Timeout: 30 * time.Second},
		shutdown:    make(chan struct{}),
	}

	versions, err := cfg.Models.Versions(ctx)
	if err != nil {
		return nil, fmt.Errorf("compute model versions: %w", err)
	}
	if err := persistModelVersions(versions); err != nil {
		log.Printf("executor: failed to persist model versions file: %v", err)
	}

	if err := e.announce(ctx, cfg.AdvworkidCred, cfg.Models.Names()); err != nil {
		return nil, fmt.Errorf("advworkid announcement: %w", err)
	}

	consumer, err := broker.DialConsumer(cfg.AMQPURI, cfg.WorkerID)
	if err != nil {
		return nil, fmt.Errorf("broker consumer: %w", err)
	}
	e.consumer = consumer

	return e, nil
}

// Start begins consuming deliveries. Blocks until Stop is called.
func (e *Executor) Start() {
	log.Printf("executor: worker %s started, serving %d models", e.workerID, len(e.models))
	e.wg.Add(1)
	defer e.wg.Done()
	e.consumer.Run(e.shutdown, e.handleDelivery)
}

// Stop signals the consume loop to exit and waits for it to return. Job
// goroutines still in flight are not waited for.
func (e *Executor) Stop() {
	close(e.shutdown)
	e.wg.Wait()
	if err := e.consumer.Close(); err != nil {
		log.Printf("executor: error closing broker consumer: %v", err)
	}
	log.Println("executor: stopped")
}

// handleDelivery is dispatched on its own goroutine per message by
// broker.Consumer.Run. ack is the thread-safe hop back to the channel
// owner.
func (e *Executor) handleDelivery(d amqp.Delivery, ack func()) {
	defer ack()

	var msg jobmodel.Message
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		log.Printf("executor: malformed message, dropping: %v", err)
		return
	}

	queueFrom := msg.Datetime
	if msg.Method == jobmodel.MethodGetFeedback {
		queueFrom = msg.DatetimeTempQueue
	}
	queueResponseTimeSec := float64(time.Now().UnixNano())/1e9 - queueFrom

	ctx := context.Background()

	if msg.JobID == "" || msg.ModelName == "" || msg.Method == "" {
		e.reportResult(ctx, msg.JobID, jobmodel.StatusError, queueResponseTimeSec, "job message missing required field", "")
		return
	}

	if err := e.postAttStatus(ctx, msg.JobID, jobmodel.StatusRunning); err != nil {
		e.reportResult(ctx, msg.JobID, jobmodel.StatusError, queueResponseTimeSec, fmt.Sprintf("failed to report running status: %v", err), "")
		return
	}

	model, ok := e.models[msg.ModelName]
	if !ok {
		e.reportResult(ctx, msg.JobID, jobmodel.StatusError, queueResponseTimeSec, fmt.Sprintf("model %q not served by this worker", msg.ModelName), "")
		return
	}

	status, response, modelVersion := e.dispatch(ctx, model, msg)
	e.reportResult(ctx, msg.JobID, status, queueResponseTimeSec, response, modelVersion)
}

// dispatch calls the model method named by msg.Method, recovering from any
// panic raised by user-supplied model code. Model code is untrusted and a
// fault in it must never crash the worker.
func (e *Executor) dispatch(ctx context.Context, model mlmodel.Model, msg jobmodel.Message) (status jobmodel.Status, response any, modelVersion string) {
	defer func() {
		if r := recover(); r != nil {
			status = jobmodel.StatusError
			response = fmt.Sprintf("%s reported: panic: %v", msg.ModelName, r)
			modelVersion = ""
		}
	}()

	status, response = e.callModel(ctx, model, msg)
	if status == jobmodel.StatusDone {
		v, err := model.GetModelVersion(ctx)
		if err != nil {
			return jobmodel.StatusError, fmt.Sprintf("%s reported: %v", msg.ModelName, err), ""
		}
		modelVersion = v
	}
	return status, response, modelVersion
}

// callModel invokes the model method named by msg.Method and applies the
// strict return-type contract.
func (e *Executor) callModel(ctx context.Context, model mlmodel.Model, msg jobmodel.Message) (jobmodel.Status, any) {
	var result any
	var err error

	switch msg.Method {
	case jobmodel.MethodPredict:
		result, err = model.Predict(ctx, msg.Features)
	case jobmodel.MethodEvaluate:
		result, err = model.Evaluate(ctx, msg.Features, msg.Targets)
	case jobmodel.MethodGetFeedback:
		var modelMetrics any
		modelMetrics, err = model.GetFeedback(ctx, msg.YPred, msg.YTrue)
		if err == nil {
			switch v := modelMetrics.(type) {
			case string:
				return jobmodel.StatusError, fmt.Sprintf("%s reported: %s", msg.ModelName, v)
			case map[string]any:
				result = map[string]any{"model_metrics": v, "api_metrics": msg.APIMetrics}
			default:
				return jobmodel.StatusError, fmt.Sprintf("%s returned unexpected type from get_feedback", msg.ModelName)
			}
		}
	case jobmodel.MethodInfo:
		result, err = model.GetModelInfo(ctx)
	default:
		return jobmodel.StatusError, fmt.Sprintf("unsupported method %q", msg.Method)
	}

	if err != nil {
		return jobmodel.StatusError, fmt.Sprintf("%s reported: %v", msg.ModelName, err)
	}

	switch msg.Method {
	case jobmodel.MethodPredict:
		switch v := result.(type) {
		case string:
			return jobmodel.StatusError, v
		case []any:
			return jobmodel.StatusDone, v
		default:
			return jobmodel.StatusError, fmt.Sprintf("%s returned unexpected type from predict", msg.ModelName)
		}
	case jobmodel.MethodEvaluate, jobmodel.MethodInfo:
		switch v := result.(type) {
		case string:
			return jobmodel.StatusError, v
		case map[string]any:
			return jobmodel.StatusDone, v
		default:
			return jobmodel.StatusError, fmt.Sprintf("%s returned unexpected type", msg.ModelName)
		}
	case jobmodel.MethodGetFeedback:
		return jobmodel.StatusDone, result
	}
	return jobmodel.StatusError, "unreachable"
}

func (e *Executor) reportResult(ctx context.Context, jobID string, status jobmodel.Status, queueResponseTimeSec float64, response any, modelVersion string) {
	if err := e.postRetorno(ctx, jobID, status, queueResponseTimeSec, response, modelVersion); err != nil {
		// Network failure on /retorno is logged and tolerated; the broker
		// message is still acknowledged by the caller to avoid poison-message
		// loops. The client will observe this as a stuck job via polling.
		log.Printf("executor: /retorno failed for job %s: %v", jobID, err)
	}
}

func (e *Executor) postAttStatus(ctx context.Context, jobID string, status jobmodel.Status) error {
	var result struct {
		Status jobmodel.Status `json:"status"`
	}
	err := e.postJSON(ctx, "/attstatus", map[string]any{
		"job_id":    jobID,
		"newstatus": status,
	}, &result)
	if err != nil {
		return err
	}
	if result.Status != status {
		return fmt.Errorf("gateway rejected status transition to %q", status)
	}
	return nil
}

func (e *Executor) postRetorno(ctx context.Context, jobID string, status jobmodel.Status, queueResponseTimeSec float64, response any, modelVersion string) error {
	var result struct {
		Status jobmodel.Status `json:"status"`
	}
	body := map[string]any{
		"job_id":                  jobID,
		"status":                  status,
		"queue_response_time_sec": queueResponseTimeSec,
		"response":                response,
	}
	if modelVersion != "" {
		body["model_version"] = modelVersion
	}
	return e.postJSON(ctx, "/retorno", body, &result)
}

func (e *Executor) announce(ctx context.Context, advworkidCred string, models []string) error {
	var result struct {
		Status jobmodel.Status `json:"status"`
	}
	err := e.postJSON(ctx, "/advworkid", map[string]any{
		"advworkid_cred": advworkidCred,
		"worker_id":      e.workerID,
		"models":         models,
	}, &result)
	if err != nil {
		return err
	}
	if result.Status != jobmodel.StatusDone {
		return fmt.Errorf("gateway rejected worker announcement")
	}
	return nil
}

func (e *Executor) postJSON(ctx context.Context, path string, body any, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.apiURL+path, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.workerToken)

	resp, err := e.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gateway %s returned status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
