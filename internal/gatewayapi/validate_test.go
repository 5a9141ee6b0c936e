package gatewayapi

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestValidateMethodIsCaseSensitive(t *testing.T) {
	_, err := validateMethod("Predict")
	require.Error(t, err)

	m, err := validateMethod("predict")
	require.NoError(t, err)
	assert.Equal(t, "predict", string(m))
}

func TestValidateMethodRejectsGetFeedback(t *testing.T) {
	_, err := validateMethod("get_feedback")
	require.Error(t, err, "get_feedback has its own endpoint, not an /inference method")
}

func TestValidateFeaturesBoundaries(t *testing.T) {
	list100 := make([]any, 100)
	list101 := make([]any, 101)

	require.NoError(t, validateFeatures(list100, "features"))
	require.Error(t, validateFeatures(list101, "features"))
	require.Error(t, validateFeatures(nil, "features"))
	require.Error(t, validateFeatures([]any{}, "features"))
}

func TestValidateTargetsLengthMatch(t *testing.T) {
	require.NoError(t, validateTargets([]any{1, 2}, []any{3, 4}))
	require.Error(t, validateTargets([]any{1, 2}, []any{3}))
}

func TestValidateJobIDBoundaries(t *testing.T) {
	require.NoError(t, validateJobID(strings.Repeat("a", 100)))
	require.Error(t, validateJobID(strings.Repeat("a", 101)))
}

func TestValidateFeedbackAgainstResponse(t *testing.T) {
	require.NoError(t, validateFeedbackAgainstResponse([]any{"y"}, []any{"y"}))
	require.Error(t, validateFeedbackAgainstResponse([]any{"y", "z"}, []any{"y"}), "length mismatch")
	require.Error(t, validateFeedbackAgainstResponse([]any{1.0}, []any{"y"}), "type mismatch")
}

func TestAsAnyList(t *testing.T) {
	assert.Equal(t, []any{"a", "b"}, asAnyList([]any{"a", "b"}))
	assert.Equal(t, []any{"a", "b"}, asAnyList(primitive.A{"a", "b"}), "mongo-decoded arrays arrive as primitive.A")
	assert.Nil(t, asAnyList("not a list"))
	assert.Nil(t, asAnyList(nil))
}
