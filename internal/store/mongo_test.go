package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/prodest/prodest-ml-stack/internal/jobmodel"
)

func TestFeedbackFilterShape(t *testing.T) {
	filter := feedbackFilter("demo", 100, 200)
	assert.Equal(t, "demo", filter["model_name"])
	assert.Equal(t, jobmodel.MethodPredict, filter["method"])
	assert.Equal(t, jobmodel.StatusDone, filter["status"])
	assert.Equal(t, true, filter["has_feedback"])
	assert.Equal(t, bson.M{"$gte": 100.0, "$lt": 200.0}, filter["datetime"])
}

func TestRegistryDocIDIsStable(t *testing.T) {
	// The registry document identity must never change across process
	// restarts, or concurrent Gateways could create a second document.
	assert.Equal(t, "000000000000aaaabbbbffff", registryDocID.Hex())
}

func TestMustObjectIDFromHexPanicsOnInvalidHex(t *testing.T) {
	defer func() {
		r := recover()
		require.NotNil(t, r, "an invalid hex string must panic at init time, not silently produce a zero id")
	}()
	mustObjectIDFromHex("not-valid-hex")
}
