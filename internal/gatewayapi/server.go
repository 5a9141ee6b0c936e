// Package gatewayapi is the Gateway: the HTTP front-end that admits client
// requests, talks to the registry and store, and publishes jobs to the
// broker.
package gatewayapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/prodest/prodest-ml-stack/internal/jobmodel"
	"github.com/prodest/prodest-ml-stack/internal/ratelimit"
	"github.com/prodest/prodest-ml-stack/internal/registry"
)

// JobStore is the narrow slice of store.Store the Gateway handlers need,
// so handlers can be tested against fakes instead of a live MongoDB.
type JobStore interface {
	InsertJob(ctx context.Context, job jobmodel.Job) error
	FindJobByID(ctx context.Context, jobID string) (jobmodel.Job, error)
	UpdateJobFields(ctx context.Context, jobID string, fields map[string]any) error
	CountFeedbackJobs(ctx context.Context, model string, start, end float64) (int64, error)
	CountPredictDoneJobs(ctx context.Context, model string) (int64, error)
	IterFeedbackJobs(ctx context.Context, model string, start, end float64, limit int64) ([]jobmodel.Job, error)
}

// Publisher is the narrow broker.Publisher surface the Gateway needs.
type Publisher interface {
	Publish(ctx context.Context, workerID string, body []byte) error
}

// Deps bundles every collaborator a Gateway handler may need. Constructed
// once at startup; the handlers are methods on it.
type Deps struct {
	Store         JobStore
	Publisher     Publisher
	Registry      *registry.Registry
	Announcer     *registry.Announcer
	Throttle      *ratelimit.FeedbackThrottle
	ClientToken   string
	WorkerToken   string
	AdvworkidCred string
	StackVersion  string
	Now           func() time.Time
}

func (d *Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// NewRouter builds the gin engine with the public, worker-facing, and
// unauthenticated routes.
func NewRouter(deps *Deps) *gin.Engine {
	router := gin.Default()

	router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})

	router.GET("/", deps.handleRoot)
	router.GET("/version", deps.handleVersion)
	router.POST("/advworkid", deps.handleAdvworkid)

	client := router.Group("/")
	client.Use(deps.requireBearer(func() string { return deps.ClientToken }))
	{
		client.POST("/inference", deps.handleInference)
		client.POST("/status", deps.handleStatus)
		client.POST("/feedback", deps.handleFeedback)
		client.POST("/get_feedback", deps.handleGetFeedback)
	}

	worker := router.Group("/")
	worker.Use(deps.requireBearer(func() string { return deps.WorkerToken }))
	{
		worker.POST("/attstatus", deps.handleAttStatus)
		worker.POST("/retorno", deps.handleRetorno)
	}

	return router
}
