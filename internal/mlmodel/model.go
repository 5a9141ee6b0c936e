// Package mlmodel defines the Model contract the Executor dispatches
// against. The model runtime itself is an external
// collaborator out of scope for this system; this package only specifies
// the interface and ships one reference implementation for local testing
// and demos.
package mlmodel

import "context"

// Model is the contract every model served by an Executor must satisfy.
// Return semantics are strict: the Executor enforces the return types
// documented here and synthesizes an Error response on violation.
type Model interface {
	// Predict returns a list of predictions or a string describing a
	// model-reported error.
	Predict(ctx context.Context, dataset []any) (any, error)
	// Evaluate returns a mapping of metrics or a string model-reported error.
	Evaluate(ctx context.Context, features, targets []any) (any, error)
	// GetFeedback returns a mapping of computed metrics or a string
	// model-reported error.
	GetFeedback(ctx context.Context, yPred, yTrue []any) (any, error)
	// GetModelInfo returns a mapping of metadata or a string error.
	GetModelInfo(ctx context.Context) (any, error)
	// GetModelVersion returns the model's version string. Must never fail
	// with anything but a Go error; the Executor has no string-error path
	// for this call, unlike the others.
	GetModelVersion(ctx context.Context) (string, error)
}

// Registry maps model_name to the Model instance an Executor process hosts.
type Registry map[string]Model

// Names returns the model names served by r, in no particular order, used
// for the /advworkid announcement payload.
func (r Registry) Names() []string {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	return names
}

// Versions computes the models_versions map persisted at Executor startup.
func (r Registry) Versions(ctx context.Context) (map[string]string, error) {
	out := make(map[string]string, len(r))
	for name, model := range r {
		v, err := model.GetModelVersion(ctx)
		if err != nil {
			return nil, err
		}
		out[name] = v
	}
	return out, nil
}
