package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/themobileprof/chatmanager/internal/db"
	"github.com/themobileprof/chatmanager/internal/dispatch"
	"github.com/themobileprof/chatmanager/pkg/llm"
)

// ExchangeReader reads archived exchanges
type ExchangeReader interface {
	GetExchanges(ctx context.Context, session string, limit, offset int) ([]db.Exchange, error)
	CountExchanges(ctx context.Context, session string) (int, error)
}

// SessionHandler lists, selects and exports sessions
type SessionHandler struct {
	manager *dispatch.Manager
	history ExchangeReader
}

// NewSessionHandler creates a new session handler. history may be nil.
func NewSessionHandler(manager *dispatch.Manager, history ExchangeReader) *SessionHandler {
	return &SessionHandler{
		manager: manager,
		history: history,
	}
}

type sessionRequest struct {
	Name string `json:"name" binding:"required"`
}

type historyItem struct {
	ID         int64             `json:"id"`
	Credential string            `json:"credential"`
	Request    []llm.ChatMessage `json:"request"`
	Response   *llm.ChatResponse `json:"response"`
	Error      *string           `json:"error"`
	LatencyMS  int64             `json:"latency_ms"`
	CreatedAt  time.Time         `json:"created_at"`
}

type sessionView struct {
	Name      string `json:"name"`
	Exchanges int    `json:"exchanges"`
}

// List returns every session in creation order
// GET /api/sessions
func (h *SessionHandler) List(c *gin.Context) {
	store := h.manager.Sessions()
	names := store.Names()

	views := make([]sessionView, 0, len(names))
	for _, name := range names {
		if s, ok := store.Find(name); ok {
			views = append(views, sessionView{Name: name, Exchanges: s.Len()})
		}
	}

	current := ""
	if s := h.manager.CurrentSession(); s != nil {
		current = s.Name()
	}

	c.JSON(http.StatusOK, gin.H{
		"current":  current,
		"sessions": views,
	})
}

// Select makes a session current, creating it if needed
// POST /api/sessions
func (h *SessionHandler) Select(c *gin.Context) {
	var req sessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}

	s := h.manager.SelectSession(req.Name)
	c.JSON(http.StatusOK, sessionView{Name: s.Name(), Exchanges: s.Len()})
}

// Export returns the session log in the default export format
// GET /api/sessions/:name/export
func (h *SessionHandler) Export(c *gin.Context) {
	out, err := h.manager.ExportSession(c.Param("name"), nil)
	if err != nil {
		if errors.Is(err, dispatch.ErrUnknownSession) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to export session"})
		return
	}

	c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(out))
}

// History pages through the archived exchanges of a session
// GET /api/sessions/:name/history?limit=&offset=
func (h *SessionHandler) History(c *gin.Context) {
	if h.history == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "archive is not configured"})
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 1 || limit > 500 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 500"})
		return
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "offset must be non-negative"})
		return
	}

	ctx := c.Request.Context()
	name := c.Param("name")

	exchanges, err := h.history.GetExchanges(ctx, name, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load history"})
		return
	}
	total, err := h.history.CountExchanges(ctx, name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to count history"})
		return
	}

	items := make([]historyItem, 0, len(exchanges))
	for _, e := range exchanges {
		items = append(items, historyItem{
			ID:         e.ID,
			Credential: e.Credential,
			Request:    e.Request,
			Response:   e.Response,
			Error:      e.Error,
			LatencyMS:  e.Latency.Milliseconds(),
			CreatedAt:  e.CreatedAt.UTC(),
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"session":   name,
		"exchanges": items,
		"total":     total,
		"limit":     limit,
		"offset":    offset,
	})
}
