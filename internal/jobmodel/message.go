package jobmodel

// Message is the JSON envelope published to the broker and consumed by the
// Executor.
type Message struct {
	JobID    string  `json:"job_id"`
	Token    string  `json:"token"`
	Datetime float64 `json:"datetime"`

	ModelName string `json:"model_name"`
	Method    Method `json:"method"`

	Features []any `json:"features,omitempty"`
	Targets  []any `json:"targets,omitempty"`

	// DatetimeTempQueue is set just before publish for get_feedback jobs
	// only; the Executor measures queue time from this field instead of
	// Datetime for that method.
	DatetimeTempQueue float64 `json:"datetime_temp_queue,omitempty"`

	// APIMetrics carries the get_feedback aggregation summary through to
	// the worker, which wraps it alongside the model's own metrics.
	APIMetrics map[string]any `json:"api_metrics,omitempty"`
	YPred      []any          `json:"y_pred,omitempty"`
	YTrue      []any          `json:"y_true,omitempty"`
}
