// Package api implements the HTTP/SSE Surface (C7): the gin-based
// external interface described in spec §6.1, grounded on the
// teacher's task_ingestion_service/api package (an API struct wrapping
// a service layer plus a logger, with routes registered by a separate
// RegisterRoutes function).
package api

import (
	"github.com/gin-gonic/gin"

	"github.com/DM-llm/deer-flow/internal/eventlog"
	"github.com/DM-llm/deer-flow/internal/replayer"
	"github.com/DM-llm/deer-flow/internal/taskmanager"
	"github.com/DM-llm/deer-flow/internal/taskregistry"
	"github.com/DM-llm/deer-flow/pkg/logger"
)

// API holds every collaborator a handler needs. Handlers are thin:
// parse, delegate, translate errors to HTTP status.
type API struct {
	manager  *taskmanager.Manager
	replayer *replayer.Replayer
	registry taskregistry.Registry
	store    eventlog.Store
	log      *logger.Logger
}

// New builds an API.
func New(manager *taskmanager.Manager, replay *replayer.Replayer, registry taskregistry.Registry, store eventlog.Store, log *logger.Logger) *API {
	return &API{manager: manager, replayer: replay, registry: registry, store: store, log: log}
}

// RegisterRoutes wires every endpoint in spec §6.1 onto router.
func RegisterRoutes(router *gin.Engine, a *API) {
	router.POST("/chat/async", a.createTask)
	router.GET("/chat/replay", a.replay)

	router.GET("/tasks/:id", a.getTask)
	router.GET("/tasks", a.listTasks)
	router.POST("/tasks/:id/cancel", a.cancelTask)
	router.POST("/tasks/:id/feedback", a.submitFeedback)

	router.GET("/threads/:id/running-task", a.runningTask)
	router.GET("/threads/:id/research-status", a.researchStatus)

	router.GET("/worker/stats", a.workerStats)
	router.POST("/worker/cleanup", a.workerCleanup)
}
