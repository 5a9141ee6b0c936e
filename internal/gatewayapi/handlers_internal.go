package gatewayapi

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/prodest/prodest-ml-stack/internal/jobmodel"
)

type attStatusRequest struct {
	JobID     string `json:"job_id"`
	NewStatus string `json:"newstatus"`
}

// handleAttStatus applies a worker-reported status transition, enforcing
// the monotonic Queued -> Running -> {Done, Error} state machine.
func (d *Deps) handleAttStatus(c *gin.Context) {
	var req attStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errEnvelope(c, "malformed request body")
		return
	}
	if err := validateJobID(req.JobID); err != nil {
		errEnvelope(c, err.Error())
		return
	}
	if !jobmodel.ValidStatus(req.NewStatus) {
		errEnvelope(c, "invalid status")
		return
	}

	ctx := c.Request.Context()
	job, err := d.Store.FindJobByID(ctx, req.JobID)
	if err != nil {
		errEnvelope(c, "job not found")
		return
	}

	next := jobmodel.Status(req.NewStatus)
	if err := job.Status.Transition(next); err != nil {
		errEnvelope(c, err.Error())
		return
	}

	if err := d.Store.UpdateJobFields(ctx, req.JobID, map[string]any{"status": next}); err != nil {
		errEnvelope(c, "store unavailable")
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": next})
}

type retornoRequest struct {
	JobID                string  `json:"job_id"`
	Status               string  `json:"status"`
	QueueResponseTimeSec float64 `json:"queue_response_time_sec"`
	Response             any     `json:"response"`
	ModelVersion         string  `json:"model_version"`
}

// handleRetorno records the Executor's final status and result.
func (d *Deps) handleRetorno(c *gin.Context) {
	var req retornoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errEnvelope(c, "malformed request body")
		return
	}
	if err := validateJobID(req.JobID); err != nil {
		errEnvelope(c, err.Error())
		return
	}
	if !jobmodel.ValidStatus(req.Status) {
		errEnvelope(c, "invalid status")
		return
	}

	ctx := c.Request.Context()
	job, err := d.Store.FindJobByID(ctx, req.JobID)
	if err != nil {
		errEnvelope(c, "job not found")
		return
	}

	next := jobmodel.Status(req.Status)
	if err := job.Status.Transition(next); err != nil {
		errEnvelope(c, err.Error())
		return
	}

	total := float64(d.now().UnixNano())/1e9 - job.Datetime

	fields := map[string]any{
		"status":                  next,
		"queue_response_time_sec": req.QueueResponseTimeSec,
		"total_response_time_sec": total,
		"response":                req.Response,
	}
	if req.ModelVersion != "" {
		fields["model_version"] = req.ModelVersion
	}
	if err := d.Store.UpdateJobFields(ctx, req.JobID, fields); err != nil {
		errEnvelope(c, "store unavailable")
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": next})
}

type advworkidRequest struct {
	AdvworkidCred string   `json:"advworkid_cred"`
	WorkerID      string   `json:"worker_id"`
	Models        []string `json:"models"`
}

// handleAdvworkid applies a worker announcement: bad credentials are
// rejected without logging, and each model assignment is saved
// incrementally.
func (d *Deps) handleAdvworkid(c *gin.Context) {
	var req advworkidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errEnvelope(c, "malformed request body")
		return
	}
	if req.AdvworkidCred != d.AdvworkidCred {
		errEnvelope(c, "unauthorized")
		return
	}
	if req.WorkerID == "" {
		errEnvelope(c, "worker_id must not be empty")
		return
	}

	changed, err := d.Announcer.Announce(c.Request.Context(), req.WorkerID, req.Models)
	if err != nil {
		errEnvelope(c, "store unavailable")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   jobmodel.StatusDone,
		"response": fmt.Sprintf("worker %s announced %d models (%d changed)", req.WorkerID, len(req.Models), changed),
	})
}
