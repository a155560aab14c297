package v1

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/GrayCatHQ/graycat-aiserver/internal/domain/entity"
	"github.com/gin-gonic/gin"
)

type InferenceUseCase interface {
	Submit(ctx context.Context, endpoint string, payload any) (*entity.Job, error)
	Wait(ctx context.Context, id string, timeout time.Duration) (*entity.Result, error)
	Execute(ctx context.Context, endpoint string, payload any, timeout time.Duration) (*entity.Result, error)
	Relay(ctx context.Context, id string, timeout time.Duration) <-chan json.RawMessage
}

type InferenceHandler struct {
	UseCase InferenceUseCase

	// ShortTimeout bounds template/tokenize/slots waits, StreamTimeout
	// bounds completions. Deadlines are measured from wait/relay start,
	// not from submission.
	ShortTimeout  time.Duration
	StreamTimeout time.Duration
}

func NewInferenceHandler(u InferenceUseCase) *InferenceHandler {
	return &InferenceHandler{
		UseCase:       u,
		ShortTimeout:  30 * time.Second,
		StreamTimeout: 5 * time.Minute,
	}
}

func (h *InferenceHandler) GetTemplate(c *gin.Context) {
	res, err := h.UseCase.Execute(c.Request.Context(), entity.EndpointTemplate, gin.H{}, h.ShortTimeout)
	h.respond(c, res, err)
}

func (h *InferenceHandler) Tokenize(c *gin.Context) {
	var req TokenizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := h.UseCase.Execute(c.Request.Context(), entity.EndpointTokenize, req, h.ShortTimeout)
	h.respond(c, res, err)
}

func (h *InferenceHandler) Slots(c *gin.Context) {
	var req SlotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := h.UseCase.Execute(c.Request.Context(), entity.EndpointSlots, req, h.ShortTimeout)
	h.respond(c, res, err)
}

// Completion dispatches an inference job and either relays the token stream
// over server-sent events or waits for the complete result, depending on the
// caller's stream flag.
func (h *InferenceHandler) Completion(c *gin.Context) {
	req := NewCompletionRequest()
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job, err := h.UseCase.Submit(c.Request.Context(), entity.EndpointCompletion, req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if !req.Stream {
		res, err := h.UseCase.Wait(c.Request.Context(), job.ID, h.StreamTimeout)
		h.respond(c, res, err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	// Keeps reverse proxies from buffering the event stream.
	c.Header("X-Accel-Buffering", "no")

	frames := h.UseCase.Relay(c.Request.Context(), job.ID, h.StreamTimeout)
	c.Stream(func(w io.Writer) bool {
		frame, ok := <-frames
		if !ok {
			return false
		}
		fmt.Fprintf(w, "data: %s\n\n", frame)
		return true
	})
}

func (h *InferenceHandler) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "LLM API Server",
		"status":  "running",
		"endpoints": []string{
			"/template", "/tokenize", "/completion", "/slots",
		},
		"architecture":   "distributed Redis async task-based worker system",
		"authentication": "Bearer token required for all endpoints except /health",
	})
}

func (h *InferenceHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": float64(time.Now().UnixNano()) / 1e9,
	})
}

// respond maps a wait outcome onto the HTTP boundary: timeouts become 504,
// malformed worker records a generic 500, worker-reported errors a 500
// carrying the error string verbatim, and success the result data itself.
func (h *InferenceHandler) respond(c *gin.Context, res *entity.Result, err error) {
	switch {
	case errors.Is(err, entity.ErrRequestTimeout):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "request timeout"})
	case errors.Is(err, entity.ErrMalformedRecord):
		c.JSON(http.StatusInternalServerError, gin.H{"error": "error processing request"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	case res.Error != "":
		c.JSON(http.StatusInternalServerError, gin.H{"error": res.Error})
	default:
		c.JSON(http.StatusOK, res.Data)
	}
}
