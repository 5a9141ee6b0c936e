package gatewayapi

import (
	"fmt"
	"reflect"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/prodest/prodest-ml-stack/internal/jobmodel"
)

const (
	maxListItems = 100
	maxJobIDLen  = 100
)

// validateMethod enforces the case-sensitive set of client-facing methods
// accepted by /inference. get_feedback is dispatched through its own
// endpoint and is not a valid /inference method.
func validateMethod(method string) (jobmodel.Method, error) {
	switch jobmodel.Method(method) {
	case jobmodel.MethodPredict, jobmodel.MethodEvaluate, jobmodel.MethodInfo:
		return jobmodel.Method(method), nil
	default:
		return "", fmt.Errorf("invalid method %q", method)
	}
}

// validateFeatures enforces the non-empty, <=100-item rule shared by
// predict/evaluate/feedback lists.
func validateFeatures(features []any, fieldName string) error {
	if len(features) == 0 {
		return fmt.Errorf("%s must be a non-empty list", fieldName)
	}
	if len(features) > maxListItems {
		return fmt.Errorf("%s must have at most %d items", fieldName, maxListItems)
	}
	return nil
}

// validateTargets enforces evaluate's features/targets length match.
func validateTargets(features, targets []any) error {
	if len(targets) != len(features) {
		return fmt.Errorf("targets length (%d) must match features length (%d)", len(targets), len(features))
	}
	return nil
}

// validateJobID enforces the oversized-id guard shared by /status and the
// internal endpoints.
func validateJobID(jobID string) error {
	if len(jobID) > maxJobIDLen {
		return fmt.Errorf("job_id exceeds %d characters", maxJobIDLen)
	}
	return nil
}

// validateFeedbackAgainstResponse enforces /feedback's length and
// element-by-element type match against the stored response list.
func validateFeedbackAgainstResponse(feedback, response []any) error {
	if len(feedback) != len(response) {
		return fmt.Errorf("a quantidade de labels do feedback (%d) difere da quantidade de labels da resposta (%d)", len(feedback), len(response))
	}
	for i := range feedback {
		if reflect.TypeOf(feedback[i]) != reflect.TypeOf(response[i]) {
			return fmt.Errorf("feedback type mismatch at index %d", i)
		}
	}
	return nil
}

// asAnyList coerces a decoded response value into a list, or nil if it is
// not a list at all. Values loaded through the mongo driver arrive as
// primitive.A rather than []any.
func asAnyList(v any) []any {
	switch list := v.(type) {
	case []any:
		return list
	case primitive.A:
		return []any(list)
	}
	return nil
}
