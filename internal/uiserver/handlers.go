package uiserver

import (
	"context"
	"encoding/json"
	"errors"
	"html/template"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/woxQAQ/wasm-bridge/internal/view"
	"github.com/woxQAQ/wasm-bridge/pkg/protocol"
)

// Page serves the full document.
func (s *Server) Page(c *gin.Context) {
	fragment, err := s.backend.Document().HTML()
	if err != nil {
		s.renderFailed(c, err)
		return
	}

	c.HTML(http.StatusOK, "page", gin.H{
		"Title":    s.backend.Title(),
		"RootID":   s.cfg.RootID,
		"Fragment": template.HTML(fragment),
	})
}

// Fragment serves the root element alone.
func (s *Server) Fragment(c *gin.Context) {
	fragment, err := s.backend.Document().HTML()
	if err != nil {
		s.renderFailed(c, err)
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(fragment))
}

// Event fires a UI event on a rendered element and answers with the
// re-rendered fragment.
func (s *Server) Event(c *gin.Context) {
	var req protocol.EventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	doc := s.backend.Document()

	if req.Value != nil {
		if err := doc.SetValue(req.Handle, *req.Value); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
	}

	detail, err := eventDetail(req.Detail)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// The guest call must not be cut short by a client that goes away.
	ctx := context.WithoutCancel(c.Request.Context())

	err = doc.Fire(ctx, req.Handle, view.Event{Type: req.Event, Detail: detail})
	switch {
	case err == nil:
	case errors.Is(err, view.ErrUnknownHandle), errors.Is(err, view.ErrNoSubscription):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	default:
		var evErr *view.EventError
		if errors.As(err, &evErr) {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		// The guest took the event; only the re-render failed and the
		// previous tree is still current.
		s.logger.Warn("Re-render after event failed", zap.Error(err))
	}

	s.Fragment(c)
}

// Health reports whether the guest module is still running.
func (s *Server) Health(c *gin.Context) {
	if err := s.backend.Healthy(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unavailable",
			"error":  err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) renderFailed(c *gin.Context, err error) {
	s.logger.Error("Failed to render document", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

// eventDetail turns the request's detail into the bytes handed to the
// guest: strings pass through as-is, anything else is sent as JSON.
func eventDetail(detail any) ([]byte, error) {
	switch d := detail.(type) {
	case nil:
		return nil, nil
	case string:
		return []byte(d), nil
	default:
		return json.Marshal(d)
	}
}
