package gatewayapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/prodest/prodest-ml-stack/internal/broker"
	"github.com/prodest/prodest-ml-stack/internal/config"
	"github.com/prodest/prodest-ml-stack/internal/feedback"
	"github.com/prodest/prodest-ml-stack/internal/idgen"
	"github.com/prodest/prodest-ml-stack/internal/jobmodel"
)

const modelNotFoundMsg = "O modelo não foi encontrado!"

func errEnvelope(c *gin.Context, msg string) {
	c.JSON(http.StatusOK, gin.H{"status": jobmodel.StatusError, "response": msg})
}

type inferenceRequest struct {
	ModelName string `json:"model_name"`
	Method    string `json:"method"`
	Features  []any  `json:"features"`
	Targets   []any  `json:"targets"`
}

// handleInference admits a predict/evaluate/info job: validate, publish to
// the owning worker's queue, persist the job record.
func (d *Deps) handleInference(c *gin.Context) {
	var req inferenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errEnvelope(c, "malformed request body")
		return
	}

	now := d.now()
	d.Registry.RefreshIfDue(c.Request.Context(), now)

	workerID, ok := d.Registry.WorkerFor(req.ModelName)
	if !ok {
		errEnvelope(c, modelNotFoundMsg)
		return
	}

	method, err := validateMethod(req.Method)
	if err != nil {
		errEnvelope(c, err.Error())
		return
	}

	if method == jobmodel.MethodPredict || method == jobmodel.MethodEvaluate {
		if err := validateFeatures(req.Features, "features"); err != nil {
			errEnvelope(c, err.Error())
			return
		}
	}
	if method == jobmodel.MethodEvaluate {
		if err := validateTargets(req.Features, req.Targets); err != nil {
			errEnvelope(c, err.Error())
			return
		}
	}

	jobID := idgen.JobID(c.ClientIP(), now)

	msg := jobmodel.Message{
		JobID:     jobID,
		Token:     d.WorkerToken,
		Datetime:  float64(now.UnixNano()) / 1e9,
		ModelName: req.ModelName,
		Method:    method,
		Features:  req.Features,
		Targets:   req.Targets,
	}
	body, err := json.Marshal(msg)
	if err != nil {
		errEnvelope(c, "failed to encode job")
		return
	}

	if err := d.Publisher.Publish(c.Request.Context(), workerID, body); err != nil {
		if errors.Is(err, broker.ErrNoWorkers) {
			// A missing queue means no worker is listening for this model;
			// that is not an infrastructure failure, so no sentinel.
			errEnvelope(c, "no workers listening for model")
			return
		}
		log.Printf("gateway: broker publish failed: %v", err)
		config.WriteSentinel(err)
		errEnvelope(c, "broker unavailable")
		return
	}

	job := jobmodel.NewQueued(jobID, req.ModelName, method, msg.Datetime)
	if err := d.Store.InsertJob(c.Request.Context(), job); err != nil {
		// The published message is now an orphan: the worker will process
		// it and find no record on /retorno, and the result is discarded
		// with a log.
		log.Printf("gateway: job %s published but store insert failed, message will be orphaned: %v", jobID, err)
		errEnvelope(c, "store unavailable")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"job_id":     jobID,
		"model_name": req.ModelName,
		"method":     method,
		"status":     jobmodel.StatusQueued,
	})
}

type statusRequest struct {
	JobID string `json:"job_id"`
}

// handleStatus returns the full job record projection.
func (d *Deps) handleStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errEnvelope(c, "malformed request body")
		return
	}
	if err := validateJobID(req.JobID); err != nil {
		errEnvelope(c, err.Error())
		return
	}

	job, err := d.Store.FindJobByID(c.Request.Context(), req.JobID)
	if err != nil {
		errEnvelope(c, "job not found")
		return
	}
	c.JSON(http.StatusOK, job)
}

type feedbackRequest struct {
	JobID    string `json:"job_id"`
	Feedback []any  `json:"feedback"`
}

// handleFeedback attaches client-provided labels to a completed predict job.
func (d *Deps) handleFeedback(c *gin.Context) {
	var req feedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errEnvelope(c, "malformed request body")
		return
	}
	if err := validateJobID(req.JobID); err != nil {
		errEnvelope(c, err.Error())
		return
	}
	if err := validateFeatures(req.Feedback, "feedback"); err != nil {
		errEnvelope(c, err.Error())
		return
	}

	job, err := d.Store.FindJobByID(c.Request.Context(), req.JobID)
	if err != nil {
		errEnvelope(c, "job not found")
		return
	}
	if job.Method != jobmodel.MethodPredict || job.Status != jobmodel.StatusDone {
		errEnvelope(c, "job is not a completed predict job")
		return
	}

	response := asAnyList(job.Response)
	if err := validateFeedbackAgainstResponse(req.Feedback, response); err != nil {
		errEnvelope(c, err.Error())
		return
	}

	if err := d.Store.UpdateJobFields(c.Request.Context(), req.JobID, map[string]any{
		"feedback":     req.Feedback,
		"has_feedback": true,
	}); err != nil {
		errEnvelope(c, "store unavailable")
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": jobmodel.StatusDone})
}

type getFeedbackRequest struct {
	ModelName   string `json:"model_name"`
	InitialDate string `json:"initial_date"`
	EndDate     string `json:"end_date"`
}

// handleGetFeedback admits an aggregate-feedback job: throttling,
// date-range validation, the row/label caps, and the api_metrics summary.
func (d *Deps) handleGetFeedback(c *gin.Context) {
	var req getFeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errEnvelope(c, "malformed request body")
		return
	}

	now := d.now()

	if ok, retryAt := d.Throttle.Allowed(req.ModelName, now); !ok {
		c.JSON(http.StatusOK, gin.H{
			"status":                  jobmodel.StatusError,
			"response":                "feedback requests are rate limited",
			"next_feedback_timestamp": retryAt,
		})
		return
	}

	d.Registry.RefreshIfDue(c.Request.Context(), now)
	workerID, ok := d.Registry.WorkerFor(req.ModelName)
	if !ok {
		errEnvelope(c, modelNotFoundMsg)
		return
	}

	start, end, err := feedback.ParseRange(req.InitialDate, req.EndDate)
	if err != nil {
		errEnvelope(c, err.Error())
		return
	}
	singleDay := feedback.IsSingleDay(req.InitialDate, req.EndDate)

	ctx := c.Request.Context()
	count, err := d.Store.CountFeedbackJobs(ctx, req.ModelName, start, end)
	if err != nil {
		errEnvelope(c, "store unavailable")
		return
	}
	// The store has been consulted for this request: bump both cooldowns
	// now, even if the request is rejected below. The cooldown keys off the
	// consult, not the outcome.
	d.Throttle.RecordConsulted(req.ModelName, now)

	if err := feedback.CheckCount(count, singleDay); err != nil {
		errEnvelope(c, err.Error())
		return
	}

	predictDone, err := d.Store.CountPredictDoneJobs(ctx, req.ModelName)
	if err != nil {
		errEnvelope(c, "store unavailable")
		return
	}

	jobs, err := d.Store.IterFeedbackJobs(ctx, req.ModelName, start, end, feedback.MaxRows())
	if err != nil {
		errEnvelope(c, "store unavailable")
		return
	}

	responses := make([][]any, len(jobs))
	feedbacks := make([][]any, len(jobs))
	for i, j := range jobs {
		responses[i] = asAnyList(j.Response)
		feedbacks[i] = j.Feedback
	}
	agg := feedback.AggregateJobs(responses, feedbacks)

	percFeedbacks := 0.0
	if predictDone > 0 {
		percFeedbacks = float64(count) / float64(predictDone) * 100
	}
	percSkipped := 0.0
	if count > 0 {
		percSkipped = float64(agg.JobsSkipped) / float64(count) * 100
	}
	apiMetrics := map[string]any{
		"feedback_labels_types":        feedback.LabelTypes(agg.YTrue),
		"qty_computed_labels":          agg.QtyComputedLabels,
		"total_jobs_predict_done":      predictDone,
		"total_jobs_has_feedback":      count,
		"total_jobs_computed_feedback": agg.JobsConsidered,
		"additional_info": map[string]any{
			"perc_feedbacks":                fmt.Sprintf("%.2f%%", percFeedbacks),
			"perc_jobs_deixados_de_fora":    fmt.Sprintf("%.2f%%", percSkipped),
			"jobs_skipped_due_to_label_cap": agg.JobsSkipped,
		},
	}

	jobID := idgen.JobID(c.ClientIP(), now)
	nowEpoch := float64(now.UnixNano()) / 1e9
	msg := jobmodel.Message{
		JobID:             jobID,
		Token:             d.WorkerToken,
		Datetime:          nowEpoch,
		DatetimeTempQueue: nowEpoch,
		ModelName:         req.ModelName,
		Method:            jobmodel.MethodGetFeedback,
		YPred:             agg.YPred,
		YTrue:             agg.YTrue,
		APIMetrics:        apiMetrics,
	}
	body, err := json.Marshal(msg)
	if err != nil {
		errEnvelope(c, "failed to encode job")
		return
	}

	if err := d.Publisher.Publish(ctx, workerID, body); err != nil {
		if errors.Is(err, broker.ErrNoWorkers) {
			errEnvelope(c, "no workers listening for model")
			return
		}
		log.Printf("gateway: broker publish failed: %v", err)
		config.WriteSentinel(err)
		errEnvelope(c, "broker unavailable")
		return
	}

	job := jobmodel.Job{
		JobID:                jobID,
		ModelName:            req.ModelName,
		Method:               jobmodel.MethodGetFeedback,
		Status:               jobmodel.StatusQueued,
		Datetime:             nowEpoch,
		QueueResponseTimeSec: -1,
		TotalResponseTimeSec: -1,
		InitialDate:          req.InitialDate,
		EndDate:              req.EndDate,
		RequestSource:        c.ClientIP(),
	}
	if err := d.Store.InsertJob(ctx, job); err != nil {
		log.Printf("gateway: get_feedback job %s published but store insert failed: %v", jobID, err)
		errEnvelope(c, "store unavailable")
		return
	}

	c.JSON(http.StatusOK, gin.H{"job_id": jobID, "status": jobmodel.StatusQueued})
}
