package gatewayapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prodest/prodest-ml-stack/internal/jobmodel"
)

func TestAttStatusEnforcesMonotonicTransitions(t *testing.T) {
	deps, store, _ := newTestDeps(t)
	router := NewRouter(deps)

	job := jobmodel.NewQueued("job-1", "demo", jobmodel.MethodPredict, 100)
	require.NoError(t, store.InsertJob(context.Background(), job))

	rec := doJSON(router, http.MethodPost, "/attstatus", testWorkerToken, map[string]any{
		"job_id": "job-1", "newstatus": "Running",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Running", resp["status"])

	// Backward transition must be rejected.
	rec = doJSON(router, http.MethodPost, "/attstatus", testWorkerToken, map[string]any{
		"job_id": "job-1", "newstatus": "Queued",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Error", resp["status"])
}

func TestAttStatusRejectsInvalidStatusValue(t *testing.T) {
	deps, store, _ := newTestDeps(t)
	router := NewRouter(deps)
	require.NoError(t, store.InsertJob(context.Background(), jobmodel.NewQueued("job-1", "demo", jobmodel.MethodPredict, 100)))

	rec := doJSON(router, http.MethodPost, "/attstatus", testWorkerToken, map[string]any{
		"job_id": "job-1", "newstatus": "Bogus",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Error", resp["status"])
}

func TestRetornoRequiresWorkerToken(t *testing.T) {
	deps, _, _ := newTestDeps(t)
	router := NewRouter(deps)

	rec := doJSON(router, http.MethodPost, "/retorno", testClientToken, map[string]any{
		"job_id": "job-1", "status": "Done", "response": []any{"y"},
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRetornoMarksJobTerminalWithResponse(t *testing.T) {
	deps, store, _ := newTestDeps(t)
	router := NewRouter(deps)

	job := jobmodel.NewQueued("job-1", "demo", jobmodel.MethodPredict, float64(1))
	job.Status = jobmodel.StatusRunning
	require.NoError(t, store.InsertJob(context.Background(), job))

	rec := doJSON(router, http.MethodPost, "/retorno", testWorkerToken, map[string]any{
		"job_id": "job-1", "status": "Done", "queue_response_time_sec": 0.5, "response": []any{"y"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	stored, err := store.FindJobByID(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, jobmodel.StatusDone, stored.Status)
	assert.Equal(t, []any{"y"}, stored.Response)
	assert.GreaterOrEqual(t, stored.TotalResponseTimeSec, stored.QueueResponseTimeSec)
}

func TestJobIDLengthBoundaryOnStatus(t *testing.T) {
	deps, _, _ := newTestDeps(t)
	router := NewRouter(deps)

	ok := make([]byte, 100)
	for i := range ok {
		ok[i] = 'a'
	}
	tooLong := append(ok, 'a')

	rec := doJSON(router, http.MethodPost, "/status", testClientToken, map[string]any{"job_id": string(ok)})
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEqual(t, "job_id exceeds 100 characters", resp["response"])

	rec = doJSON(router, http.MethodPost, "/status", testClientToken, map[string]any{"job_id": string(tooLong)})
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Error", resp["status"])
}

func TestGetFeedbackRejectsOversizedDateRange(t *testing.T) {
	deps, _, _ := newTestDeps(t)
	router := NewRouter(deps)

	rec := doJSON(router, http.MethodPost, "/get_feedback", testClientToken, map[string]any{
		"model_name": "demo", "initial_date": "01/01/2024", "end_date": "02/04/2024",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Error", resp["status"])
}

func TestGetFeedbackSecondCallIsThrottled(t *testing.T) {
	deps, store, _ := newTestDeps(t)
	router := NewRouter(deps)

	job := jobmodel.Job{
		JobID: "job-1", ModelName: "demo", Method: jobmodel.MethodPredict,
		Status: jobmodel.StatusDone, Datetime: 1704067200, // 01/01/2024
		Response: []any{"y"}, Feedback: []any{"y"}, HasFeedback: true,
		QueueResponseTimeSec: 0.1, TotalResponseTimeSec: 0.2,
	}
	require.NoError(t, store.InsertJob(context.Background(), job))

	rec := doJSON(router, http.MethodPost, "/get_feedback", testClientToken, map[string]any{
		"model_name": "demo", "initial_date": "01/01/2024", "end_date": "01/01/2024",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var first map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))
	require.Equal(t, "Queued", first["status"])

	rec = doJSON(router, http.MethodPost, "/get_feedback", testClientToken, map[string]any{
		"model_name": "demo", "initial_date": "01/01/2024", "end_date": "01/01/2024",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var second map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &second))
	assert.Equal(t, "Error", second["status"])
	assert.NotEmpty(t, second["next_feedback_timestamp"])
}

func TestGetFeedbackRejectsZeroRows(t *testing.T) {
	deps, _, _ := newTestDeps(t)
	router := NewRouter(deps)

	rec := doJSON(router, http.MethodPost, "/get_feedback", testClientToken, map[string]any{
		"model_name": "demo", "initial_date": "01/01/2024", "end_date": "01/01/2024",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Error", resp["status"])

	// The store was consulted even though the request was rejected, so the
	// cooldown is tripped for the next call.
	rec = doJSON(router, http.MethodPost, "/get_feedback", testClientToken, map[string]any{
		"model_name": "demo", "initial_date": "01/01/2024", "end_date": "01/01/2024",
	})
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["next_feedback_timestamp"])
}

func TestGetFeedbackPublishesAPIMetrics(t *testing.T) {
	deps, store, pub := newTestDeps(t)
	router := NewRouter(deps)

	for i, fb := range []any{"b", "a"} {
		job := jobmodel.Job{
			JobID: fmt.Sprintf("job-%d", i), ModelName: "demo", Method: jobmodel.MethodPredict,
			Status: jobmodel.StatusDone, Datetime: 1704067200 + float64(i),
			Response: []any{fb}, Feedback: []any{fb}, HasFeedback: true,
			QueueResponseTimeSec: 0.1, TotalResponseTimeSec: 0.2,
		}
		require.NoError(t, store.InsertJob(context.Background(), job))
	}

	rec := doJSON(router, http.MethodPost, "/get_feedback", testClientToken, map[string]any{
		"model_name": "demo", "initial_date": "01/01/2024", "end_date": "01/01/2024",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "Queued", resp["status"])

	require.Len(t, pub.bodies, 1)
	var msg jobmodel.Message
	require.NoError(t, json.Unmarshal(pub.bodies[0], &msg))
	assert.Equal(t, jobmodel.MethodGetFeedback, msg.Method)
	assert.Len(t, msg.YPred, 2)
	assert.Equal(t, []any{"a", "b"}, msg.APIMetrics["feedback_labels_types"])
	assert.Equal(t, float64(2), msg.APIMetrics["total_jobs_predict_done"])
	assert.Equal(t, float64(2), msg.APIMetrics["total_jobs_has_feedback"])
	assert.Equal(t, float64(2), msg.APIMetrics["total_jobs_computed_feedback"])
}
