package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/DM-llm/deer-flow/internal/eventlog"
	"github.com/DM-llm/deer-flow/internal/replayer"
	"github.com/DM-llm/deer-flow/internal/taskmanager"
	"github.com/DM-llm/deer-flow/internal/taskregistry"
	"github.com/DM-llm/deer-flow/internal/workflow"
	"github.com/DM-llm/deer-flow/pkg/logger"
)

func testRouter(t *testing.T) (*gin.Engine, taskregistry.Registry, eventlog.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger.Init(logrus.ErrorLevel)
	log := logger.New("test", "", "")

	registry := taskregistry.NewMemory()
	store := eventlog.NewMemory()
	manager := taskmanager.New(registry, store, &workflow.SimulatedEngine{Steps: 1}, 4, 5, log)
	replay := replayer.New(store, registry, 0, 0, log)

	a := New(manager, replay, registry, store, log)
	router := gin.New()
	RegisterRoutes(router, a)
	return router, registry, store
}

func TestCreateTaskAndGetTask(t *testing.T) {
	router, registry, _ := testRouter(t)

	body, _ := json.Marshal(map[string]any{
		"thread_id":          "T1",
		"messages":           []map[string]string{{"role": "user", "content": "hi"}},
		"auto_accepted_plan": true,
	})
	req := httptest.NewRequest(http.MethodPost, "/chat/async", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	taskID, _ := resp["task_id"].(string)
	require.NotEmpty(t, taskID)

	getReq := httptest.NewRequest(http.MethodGet, "/tasks/"+taskID, nil)
	getRec := httptest.NewRecorder()
	router.ServeHTTP(getRec, getReq)
	require.Equal(t, http.StatusOK, getRec.Code)

	require.Eventually(t, func() bool {
		task, err := registry.Get(req.Context(), taskID)
		return err == nil && task.Status.Terminal()
	}, 2*time.Second, 10*time.Millisecond)
}

func TestGetTaskNotFound(t *testing.T) {
	router, _, _ := testRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/tasks/does-not-exist", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSubmitFeedbackConflictWhenNotWaiting(t *testing.T) {
	router, registry, _ := testRouter(t)

	body, _ := json.Marshal(map[string]any{
		"thread_id":          "T1",
		"messages":           []map[string]string{{"role": "user", "content": "hi"}},
		"auto_accepted_plan": true,
	})
	req := httptest.NewRequest(http.MethodPost, "/chat/async", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	taskID := resp["task_id"].(string)

	require.Eventually(t, func() bool {
		task, err := registry.Get(req.Context(), taskID)
		return err == nil && task.Status.Terminal()
	}, 2*time.Second, 10*time.Millisecond)

	fbBody, _ := json.Marshal(map[string]string{"option": "accepted"})
	fbReq := httptest.NewRequest(http.MethodPost, "/tasks/"+taskID+"/feedback", bytes.NewReader(fbBody))
	fbReq.Header.Set("Content-Type", "application/json")
	fbRec := httptest.NewRecorder()
	router.ServeHTTP(fbRec, fbReq)
	require.Equal(t, http.StatusConflict, fbRec.Code)
}

func TestCancelTaskIdempotent(t *testing.T) {
	router, registry, _ := testRouter(t)

	body, _ := json.Marshal(map[string]any{
		"thread_id":          "T1",
		"messages":           []map[string]string{{"role": "user", "content": "hi"}},
		"auto_accepted_plan": true,
	})
	req := httptest.NewRequest(http.MethodPost, "/chat/async", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	taskID := resp["task_id"].(string)

	require.Eventually(t, func() bool {
		task, err := registry.Get(req.Context(), taskID)
		return err == nil && task.Status.Terminal()
	}, 2*time.Second, 10*time.Millisecond)

	for i := 0; i < 2; i++ {
		cancelReq := httptest.NewRequest(http.MethodPost, "/tasks/"+taskID+"/cancel", nil)
		cancelRec := httptest.NewRecorder()
		router.ServeHTTP(cancelRec, cancelReq)
		require.Equal(t, http.StatusOK, cancelRec.Code)
	}
}

func TestReplayStaticModeOverHTTP(t *testing.T) {
	router, registry, store := testRouter(t)
	ctx := httptest.NewRequest(http.MethodGet, "/", nil).Context()

	require.NoError(t, registry.Create(ctx, &taskregistry.TaskInfo{TaskID: "X1", ThreadID: "T1", Status: taskregistry.StatusCompleted, CreatedAt: time.Now()}))
	key := eventlog.StreamKey("T1", "X1")
	_, err := store.Append(ctx, key, "message_chunk", "T1", map[string]any{"content": "hi"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/chat/replay?thread_id=T1&query_id=X1&continuous=false", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "event: message_chunk")
	require.Contains(t, rec.Body.String(), "event: replay_end")
}

func TestWorkerStatsAndCleanup(t *testing.T) {
	router, registry, _ := testRouter(t)

	body, _ := json.Marshal(map[string]any{
		"thread_id":          "T1",
		"messages":           []map[string]string{{"role": "user", "content": "hi"}},
		"auto_accepted_plan": true,
	})
	req := httptest.NewRequest(http.MethodPost, "/chat/async", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	taskID := resp["task_id"].(string)

	require.Eventually(t, func() bool {
		task, err := registry.Get(req.Context(), taskID)
		return err == nil && task.Status.Terminal()
	}, 2*time.Second, 10*time.Millisecond)

	statsReq := httptest.NewRequest(http.MethodGet, "/worker/stats", nil)
	statsRec := httptest.NewRecorder()
	router.ServeHTTP(statsRec, statsReq)
	require.Equal(t, http.StatusOK, statsRec.Code)

	cleanupReq := httptest.NewRequest(http.MethodPost, "/worker/cleanup?days=0", nil)
	cleanupRec := httptest.NewRecorder()
	router.ServeHTTP(cleanupRec, cleanupReq)
	require.Equal(t, http.StatusOK, cleanupRec.Code)

	var cleanupResp map[string]any
	require.NoError(t, json.Unmarshal(cleanupRec.Body.Bytes(), &cleanupResp))
	require.Equal(t, float64(1), cleanupResp["removed"])
}
