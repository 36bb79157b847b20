package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/themobileprof/chatmanager/internal/dispatch"
	"github.com/themobileprof/chatmanager/pkg/llm"
)

// MaxBatchSize caps the number of requests in one batch call
const MaxBatchSize = 100

// ChatHandler sends chat requests through the dispatcher
type ChatHandler struct {
	manager *dispatch.Manager
}

// NewChatHandler creates a new chat handler
func NewChatHandler(manager *dispatch.Manager) *ChatHandler {
	return &ChatHandler{manager: manager}
}

type chatRequest struct {
	Messages []llm.ChatMessage `json:"messages" binding:"required,min=1"`
}

type batchRequest struct {
	Requests    [][]llm.ChatMessage `json:"requests" binding:"required"`
	Concurrency int                 `json:"concurrency"`
}

// Send dispatches one request. A failed or dropped request yields a null
// response, not an error status.
// POST /api/chat
func (h *ChatHandler) Send(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "messages are required"})
		return
	}

	resp := h.manager.Send(c.Request.Context(), req.Messages)
	c.JSON(http.StatusOK, gin.H{"response": resp})
}

// SendBatch dispatches several requests concurrently
// POST /api/chat/batch
func (h *ChatHandler) SendBatch(c *gin.Context) {
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "requests are required"})
		return
	}
	if len(req.Requests) > MaxBatchSize {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "too many requests in batch",
			"max":   MaxBatchSize,
		})
		return
	}

	results := h.manager.SendBatch(c.Request.Context(), req.Requests, req.Concurrency)
	c.JSON(http.StatusOK, gin.H{"responses": results})
}
