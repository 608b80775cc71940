package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/DM-llm/deer-flow/internal/replayer"
)

// ginSink adapts a gin.Context into a replayer.Sink, writing each
// frame as `event: <kind>\ndata: <json>\n\n` and flushing immediately
// so a client tailing the response sees events as they're produced,
// grounded on the SSE header/flush discipline shown in the retrieved
// C360Studio-semspec question stream handler.
type ginSink struct {
	c *gin.Context
}

func (s *ginSink) Send(ctx context.Context, frame replayer.Frame) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if _, err := s.c.Writer.WriteString("event: " + frame.Event + "\n"); err != nil {
		return err
	}
	if _, err := s.c.Writer.Write([]byte("data: ")); err != nil {
		return err
	}
	if _, err := s.c.Writer.Write(frame.Data); err != nil {
		return err
	}
	if _, err := s.c.Writer.WriteString("\n\n"); err != nil {
		return err
	}
	s.c.Writer.Flush()
	return nil
}

func (a *API) replay(c *gin.Context) {
	threadID := c.Query("thread_id")
	queryID := c.Query("query_id")
	if queryID == "" {
		queryID = replayer.AliasDefault
	}
	from := c.DefaultQuery("offset", "0")
	continuous := c.Query("continuous") == "true"

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	sink := &ginSink{c: c}
	if err := a.replayer.Replay(c.Request.Context(), threadID, queryID, from, continuous, sink); err != nil {
		a.log.WithError(err).Warn("api: replay ended with error")
	}
}
