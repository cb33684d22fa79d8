// Package gateway exposes one OBS session over HTTP: plain request/response
// endpoints and a server-sent event stream.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/cyradotpink/influencer/internal/obsws"
)

// Session is the part of *obsws.Client the gateway needs.
type Session interface {
	Do(ctx context.Context, req obsws.Request) (*obsws.RequestResponse, error)
	RequestBatch(ctx context.Context, batch obsws.RequestBatch) (*obsws.RequestBatchResponse, error)
	Subscribe() *obsws.Subscription
	RPCVersion() int
	ServerVersion() string
	Pending() int
	Subscribers() int
	Done() <-chan struct{}
}

type GatewayAPI struct {
	session Session
	logger  zerolog.Logger
}

func NewGatewayAPI(session Session, logger zerolog.Logger) *GatewayAPI {
	return &GatewayAPI{
		session: session,
		logger:  logger.With().Str("component", "gateway").Logger(),
	}
}

func (a *GatewayAPI) Setup(r *gin.Engine) {
	r.GET("/status", a.Status)
	r.POST("/requests/:type", a.Request)
	r.POST("/batch", a.Batch)
	r.GET("/events", a.Events)
}

func (a *GatewayAPI) Status(c *gin.Context) {
	connected := true
	select {
	case <-a.session.Done():
		connected = false
	default:
	}
	c.JSON(http.StatusOK, StatusResponse{
		Connected:     connected,
		RPCVersion:    a.session.RPCVersion(),
		ServerVersion: a.session.ServerVersion(),
		Pending:       a.session.Pending(),
		Subscribers:   a.session.Subscribers(),
	})
}

// Request forwards the body as requestData. ?id= sets the requestId.
func (a *GatewayAPI) Request(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var data json.RawMessage
	if len(body) > 0 {
		if !json.Valid(body) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "request body is not valid JSON"})
			return
		}
		data = body
	}

	req := obsws.Request{Type: c.Param("type"), ID: c.Query("id"), Data: data}
	resp, err := a.session.Do(c.Request.Context(), req)
	if err != nil {
		a.fail(c, err)
		return
	}
	status := http.StatusOK
	if !resp.Status.Result {
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, resp)
}

func (a *GatewayAPI) Batch(c *gin.Context) {
	var batch obsws.RequestBatch
	if err := c.ShouldBindJSON(&batch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(batch.Requests) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "batch has no requests"})
		return
	}
	resp, err := a.session.RequestBatch(c.Request.Context(), batch)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Events streams every event received after the client connected, one SSE
// message per event named after its type.
func (a *GatewayAPI) Events(c *gin.Context) {
	sub := a.session.Subscribe()
	defer sub.Close()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	ctx := c.Request.Context()
	for {
		ev, err := sub.Next(ctx)
		if err != nil {
			if ctx.Err() == nil {
				a.logger.Debug().Err(err).Msg("event stream ended")
			}
			return
		}
		c.SSEvent(ev.Type, ev)
		c.Writer.Flush()
	}
}

func (a *GatewayAPI) fail(c *gin.Context, err error) {
	status := http.StatusBadGateway
	switch {
	case errors.Is(err, obsws.ErrDuplicateRequestID):
		status = http.StatusConflict
	case errors.Is(err, obsws.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	case errors.Is(err, obsws.ErrConnectionClosed):
		status = http.StatusServiceUnavailable
	}
	a.logger.Warn().Err(err).Int("status", status).Msg("request failed")
	c.JSON(status, gin.H{"error": err.Error()})
}

type StatusResponse struct {
	Connected     bool   `json:"connected"`
	RPCVersion    int    `json:"rpcVersion"`
	ServerVersion string `json:"obsWebSocketVersion"`
	Pending       int    `json:"pendingRequests"`
	Subscribers   int    `json:"subscribers"`
}
