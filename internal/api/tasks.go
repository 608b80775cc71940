package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/DM-llm/deer-flow/internal/taskmanager"
	"github.com/DM-llm/deer-flow/internal/taskregistry"
	"github.com/DM-llm/deer-flow/internal/workflow"
)

// createTaskRequest is the body accepted by POST /chat/async (spec §6.3).
type createTaskRequest struct {
	ThreadID                      string             `json:"thread_id" binding:"required"`
	Messages                      []workflow.Message `json:"messages" binding:"required"`
	Resources                     []string           `json:"resources"`
	AutoAcceptedPlan              bool               `json:"auto_accepted_plan"`
	MaxPlanIterations             int                `json:"max_plan_iterations"`
	MaxStepNum                    int                `json:"max_step_num"`
	MaxSearchResults              int                `json:"max_search_results"`
	EnableDeepThinking            bool               `json:"enable_deep_thinking"`
	EnableBackgroundInvestigation bool               `json:"enable_background_investigation"`
	ReportStyle                   string             `json:"report_style"`
	MCPSettings                   map[string]any     `json:"mcp_settings"`
}

func (a *API) createTask(c *gin.Context) {
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cfg := workflow.TaskConfig{
		Messages:                      req.Messages,
		Resources:                     req.Resources,
		ThreadID:                      req.ThreadID,
		AutoAcceptedPlan:              req.AutoAcceptedPlan,
		MaxPlanIterations:             req.MaxPlanIterations,
		MaxStepNum:                    req.MaxStepNum,
		MaxSearchResults:              req.MaxSearchResults,
		EnableDeepThinking:            req.EnableDeepThinking,
		EnableBackgroundInvestigation: req.EnableBackgroundInvestigation,
		ReportStyle:                   req.ReportStyle,
		MCPSettings:                   req.MCPSettings,
	}

	var userInput string
	if len(req.Messages) > 0 {
		userInput = req.Messages[len(req.Messages)-1].Content
	}

	info, err := a.manager.CreateTask(c.Request.Context(), cfg, userInput)
	if err != nil {
		a.log.WithError(err).Error("api: create_task failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create task"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"task_id":    info.TaskID,
		"thread_id":  info.ThreadID,
		"status":     info.Status,
		"created_at": info.CreatedAt,
	})
}

func (a *API) getTask(c *gin.Context) {
	taskID := c.Param("id")
	task, err := a.registry.Get(c.Request.Context(), taskID)
	if errors.Is(err, taskregistry.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}
	if err != nil {
		a.log.WithError(err).Error("api: get_task failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch task"})
		return
	}
	c.JSON(http.StatusOK, task)
}

func (a *API) listTasks(c *gin.Context) {
	filter := taskregistry.Filter{
		ThreadID: c.Query("thread_id"),
		Status:   taskregistry.Status(c.Query("status")),
	}
	if limitStr := c.Query("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = limit
		}
	}

	tasks, err := a.registry.List(c.Request.Context(), filter)
	if err != nil {
		a.log.WithError(err).Error("api: list_tasks failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list tasks"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

func (a *API) cancelTask(c *gin.Context) {
	taskID := c.Param("id")
	err := a.manager.CancelTask(c.Request.Context(), taskID)
	if errors.Is(err, taskregistry.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}
	if err != nil {
		a.log.WithError(err).Error("api: cancel_task failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to cancel task"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"task_id": taskID, "status": "cancel_requested"})
}

type feedbackRequest struct {
	Option string `json:"option" binding:"required"`
}

func (a *API) submitFeedback(c *gin.Context) {
	taskID := c.Param("id")
	var req feedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := a.manager.SubmitInterruptFeedback(c.Request.Context(), taskID, req.Option)
	switch {
	case errors.Is(err, taskregistry.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
	case errors.Is(err, taskmanager.ErrNotWaiting):
		c.JSON(http.StatusConflict, gin.H{"error": "task is not awaiting feedback"})
	case err != nil:
		a.log.WithError(err).Error("api: submit_feedback failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to submit feedback"})
	default:
		c.JSON(http.StatusOK, gin.H{"task_id": taskID, "status": "feedback_accepted"})
	}
}

func (a *API) runningTask(c *gin.Context) {
	threadID := c.Param("id")
	tasks, err := a.registry.List(c.Request.Context(), taskregistry.Filter{ThreadID: threadID, Status: taskregistry.StatusRunning, Limit: 1})
	if err != nil {
		a.log.WithError(err).Error("api: running_task failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query running task"})
		return
	}
	if len(tasks) == 0 {
		c.JSON(http.StatusOK, gin.H{"has_running_task": false})
		return
	}
	task := tasks[0]
	c.JSON(http.StatusOK, gin.H{
		"has_running_task": true,
		"task_id":          task.TaskID,
		"status":           task.Status,
		"progress":         task.Progress,
		"current_step":     task.CurrentStep,
	})
}

func (a *API) workerStats(c *gin.Context) {
	stats, err := a.manager.GetStats(c.Request.Context())
	if err != nil {
		a.log.WithError(err).Error("api: worker_stats failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch stats"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (a *API) workerCleanup(c *gin.Context) {
	days := 7
	if daysStr := c.Query("days"); daysStr != "" {
		if v, err := strconv.Atoi(daysStr); err == nil {
			days = v
		}
	}
	removed, err := a.manager.Cleanup(c.Request.Context(), days)
	if err != nil {
		a.log.WithError(err).Error("api: worker_cleanup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to run cleanup"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}
