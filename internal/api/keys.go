package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/themobileprof/chatmanager/internal/dispatch"
	"github.com/themobileprof/chatmanager/internal/keys"
	"github.com/themobileprof/chatmanager/internal/privacy"
)

// KeysHandler manages the credential registry
type KeysHandler struct {
	registry *keys.Registry
	manager  *dispatch.Manager
}

// NewKeysHandler creates a new keys handler
func NewKeysHandler(registry *keys.Registry, manager *dispatch.Manager) *KeysHandler {
	return &KeysHandler{
		registry: registry,
		manager:  manager,
	}
}

type keyView struct {
	Name     string     `json:"name"`
	Secret   string     `json:"secret"`
	Uses     int        `json:"uses"`
	LastUsed *time.Time `json:"last_used"`
	Breaker  string     `json:"breaker,omitempty"`
}

type addKeyRequest struct {
	Name   string `json:"name" binding:"required"`
	Secret string `json:"secret" binding:"required"`
}

type policyRequest struct {
	Policy string `json:"policy" binding:"required"`
}

// List returns every credential with masked secrets and usage
// GET /api/keys
func (h *KeysHandler) List(c *gin.Context) {
	masked := make(map[string]string)
	for _, cred := range h.registry.Credentials() {
		masked[cred.Name] = privacy.MaskSecret(cred.Secret)
	}
	breakers := h.manager.BreakerStates()

	stats := h.registry.Stats()
	views := make([]keyView, 0, len(stats))
	for _, u := range stats {
		v := keyView{
			Name:   u.Name,
			Secret: masked[u.Name],
			Uses:   u.Uses,
		}
		if !u.LastUsed.IsZero() {
			lastUsed := u.LastUsed
			v.LastUsed = &lastUsed
		}
		if state, ok := breakers[u.Name]; ok {
			v.Breaker = state.String()
		}
		views = append(views, v)
	}

	c.JSON(http.StatusOK, gin.H{
		"policy": h.registry.Policy(),
		"keys":   views,
	})
}

// Add registers a credential
// POST /api/keys
func (h *KeysHandler) Add(c *gin.Context) {
	var req addKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name and secret are required"})
		return
	}

	if err := h.registry.Add(req.Name, req.Secret); err != nil {
		writeRegistryError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"name":   req.Name,
		"secret": privacy.MaskSecret(req.Secret),
	})
}

// Remove deletes a credential by name
// DELETE /api/keys/:name
func (h *KeysHandler) Remove(c *gin.Context) {
	name := c.Param("name")
	if err := h.registry.Remove(name); err != nil {
		writeRegistryError(c, err)
		return
	}

	h.manager.ForgetCredential(name)
	c.Status(http.StatusNoContent)
}

// SetPolicy switches the selection policy
// PUT /api/keys/policy
func (h *KeysHandler) SetPolicy(c *gin.Context) {
	var req policyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "policy is required"})
		return
	}

	if err := h.registry.SetPolicy(req.Policy); err != nil {
		writeRegistryError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"policy": h.registry.Policy()})
}

func writeRegistryError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, keys.ErrDuplicateName), errors.Is(err, keys.ErrDuplicateSecret):
		status = http.StatusConflict
	case errors.Is(err, keys.ErrUnknownName):
		status = http.StatusNotFound
	case errors.Is(err, keys.ErrUnknownPolicy):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":    err.Error(),
			"policies": keys.Policies(),
		})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
