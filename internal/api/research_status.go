package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/DM-llm/deer-flow/internal/events"
	"github.com/DM-llm/deer-flow/internal/offset"
)

// streamResearchStatus is one task stream's research progress, as
// derived from its research_start/research_end events (SPEC_FULL §3,
// grounded on the original's get_thread_research_status).
type streamResearchStatus struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"` // "ongoing" or "completed"
}

func (a *API) researchStatus(c *gin.Context) {
	threadID := c.Param("id")
	ctx := c.Request.Context()

	keys, err := a.store.Keys(ctx, "chat:"+threadID+":*")
	if err != nil {
		a.log.WithError(err).Error("api: research_status failed listing streams")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to scan research status"})
		return
	}

	var streams []streamResearchStatus
	var mostRecentTaskID string
	var mostRecentID offset.ID

	for _, key := range keys {
		taskID := taskIDFromStreamKey(key, threadID)

		evs, err := a.store.Range(ctx, key, offset.Zero, offset.Unbounded, 0)
		if err != nil {
			a.log.WithError(err).Warn("api: research_status failed ranging stream")
			continue
		}
		if len(evs) == 0 {
			continue
		}

		ongoing := false
		sawResearch := false
		for _, ev := range evs {
			switch ev.Kind {
			case events.KindResearchStart:
				sawResearch = true
				ongoing = true
			case events.KindResearchEnd:
				ongoing = false
			}
		}
		if !sawResearch {
			continue
		}

		status := "completed"
		if ongoing {
			status = "ongoing"
		}
		streams = append(streams, streamResearchStatus{TaskID: taskID, Status: status})

		lastID, err := offset.Parse(evs[len(evs)-1].ID)
		if err == nil && mostRecentID.Less(lastID) {
			mostRecentID = lastID
			mostRecentTaskID = taskID
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"thread_id":           threadID,
		"streams":             streams,
		"most_recent_task_id": mostRecentTaskID,
	})
}

func taskIDFromStreamKey(key, threadID string) string {
	return strings.TrimPrefix(key, "chat:"+threadID+":")
}
