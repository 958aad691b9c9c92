package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/justlovemaki/AIClient-2-API/internal/lifecycle"
	"github.com/justlovemaki/AIClient-2-API/internal/pool"
	"github.com/justlovemaki/AIClient-2-API/internal/risk"
	"github.com/justlovemaki/AIClient-2-API/internal/usage"
)

// Management serves the operator control plane: risk summaries and
// events, manual release, policy updates, pool CRUD, health checks, and
// usage aggregates.
type Management struct {
	poolMgr *pool.Manager
	riskMgr *risk.Manager
	tracker *usage.Tracker
}

// NewManagement wires the management handler.
func NewManagement(poolMgr *pool.Manager, riskMgr *risk.Manager, tracker *usage.Tracker) *Management {
	return &Management{poolMgr: poolMgr, riskMgr: riskMgr, tracker: tracker}
}

// RegisterRoutes attaches the management endpoints to the group.
func (m *Management) RegisterRoutes(group *gin.RouterGroup) {
	riskGroup := group.Group("/risk")
	{
		riskGroup.GET("/summary", m.riskSummary)
		riskGroup.GET("/credentials", m.riskCredentials)
		riskGroup.GET("/events", m.riskEvents)
		riskGroup.POST("/release", m.manualRelease)
		riskGroup.PUT("/policy", m.updatePolicy)
	}

	pools := group.Group("/pools")
	{
		pools.GET("", m.listPools)
		pools.POST("/:provider", m.addCredential)
		pools.PUT("/:provider/:id", m.updateCredential)
		pools.DELETE("/:provider/:id", m.deleteCredential)
		pools.DELETE("/:provider", m.deleteUnhealthy)
		pools.POST("/:provider/:id/enable", m.setEnabled(true))
		pools.POST("/:provider/:id/disable", m.setEnabled(false))
		pools.POST("/:provider/:id/drain", m.setDrain(true))
		pools.POST("/:provider/:id/undrain", m.setDrain(false))
		pools.POST("/:provider/:id/reset-health", m.resetHealth)
		pools.POST("/:provider/:id/refresh-uuid", m.refreshUUID)
		pools.POST("/:provider/:id/health-check", m.healthCheck)
	}

	group.GET("/usage", m.usageSnapshot)
}

func (m *Management) riskSummary(c *gin.Context) {
	c.JSON(http.StatusOK, m.riskMgr.Summary())
}

func (m *Management) riskCredentials(c *gin.Context) {
	filter := lifecycle.CredentialFilter{
		ProviderType:   c.Query("provider"),
		LifecycleState: lifecycle.State(c.Query("state")),
	}
	c.JSON(http.StatusOK, gin.H{"credentials": m.riskMgr.Credentials(filter)})
}

func (m *Management) riskEvents(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	filter := lifecycle.EventFilter{
		CredentialID: c.Query("credentialId"),
		SignalType:   c.Query("signal"),
		Decision:     c.Query("decision"),
		Limit:        limit,
	}
	c.JSON(http.StatusOK, gin.H{"events": m.riskMgr.Events(filter)})
}

func (m *Management) manualRelease(c *gin.Context) {
	var req risk.ManualReleaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Source == "" {
		req.Source = "management"
	}
	evaluation, err := m.riskMgr.ManualRelease(req)
	if err != nil {
		c.JSON(releaseErrorStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"evaluation": evaluation})
}

// releaseErrorStatus maps the typed manual-release rejections to HTTP
// statuses.
func releaseErrorStatus(err error) int {
	switch {
	case errors.Is(err, risk.ErrCredentialNotFound):
		return http.StatusNotFound
	case errors.Is(err, risk.ErrReleaseForceRequired):
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

func (m *Management) updatePolicy(c *gin.Context) {
	var req struct {
		Mode             string `json:"mode"`
		IdentityWindowMs int64  `json:"identityWindowMs"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	window := time.Duration(req.IdentityWindowMs) * time.Millisecond
	if err := m.riskMgr.UpdatePolicyConfig(risk.Mode(req.Mode), window); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"mode": req.Mode})
}

func (m *Management) listPools(c *gin.Context) {
	result := make(map[string][]*pool.CredentialConfig)
	for _, providerType := range m.poolMgr.ProviderTypes() {
		entries := m.poolMgr.Entries(providerType)
		for _, entry := range entries {
			entry.APIKey = redactSecret(entry.APIKey)
		}
		result[providerType] = entries
	}
	c.JSON(http.StatusOK, gin.H{"pools": result})
}

// redactSecret keeps only a recognizable suffix of a stored secret.
func redactSecret(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 6 {
		return "***"
	}
	return "***" + secret[len(secret)-4:]
}

func (m *Management) addCredential(c *gin.Context) {
	var cfg pool.CredentialConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	added, err := m.poolMgr.Add(c.Param("provider"), &cfg)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, added)
}

func (m *Management) updateCredential(c *gin.Context) {
	var patch pool.CredentialConfig
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := m.poolMgr.Update(c.Param("provider"), c.Param("id"), &patch); err != nil {
		c.JSON(poolErrorStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (m *Management) deleteCredential(c *gin.Context) {
	if err := m.poolMgr.Delete(c.Param("provider"), c.Param("id")); err != nil {
		c.JSON(poolErrorStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (m *Management) deleteUnhealthy(c *gin.Context) {
	removed := m.poolMgr.DeleteUnhealthy(c.Param("provider"))
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

func (m *Management) setEnabled(enable bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		var err error
		if enable {
			err = m.poolMgr.Enable(c.Param("provider"), c.Param("id"))
		} else {
			err = m.poolMgr.Disable(c.Param("provider"), c.Param("id"))
		}
		if err != nil {
			c.JSON(poolErrorStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func (m *Management) setDrain(drain bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := m.poolMgr.SetDrainMode(c.Param("provider"), c.Param("id"), drain); err != nil {
			c.JSON(poolErrorStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func (m *Management) resetHealth(c *gin.Context) {
	if err := m.poolMgr.ResetHealth(c.Param("provider"), c.Param("id")); err != nil {
		c.JSON(poolErrorStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (m *Management) refreshUUID(c *gin.Context) {
	newID, err := m.poolMgr.RefreshUUID(c.Param("provider"), c.Param("id"))
	if err != nil {
		c.JSON(poolErrorStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"uuid": newID})
}

func (m *Management) healthCheck(c *gin.Context) {
	result := m.poolMgr.CheckHealth(c.Request.Context(), c.Param("provider"), c.Param("id"), true)
	status := http.StatusOK
	if !result.Success {
		status = http.StatusBadGateway
	}
	c.JSON(status, result)
}

func (m *Management) usageSnapshot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"usage": m.tracker.Snapshot()})
}

func poolErrorStatus(err error) int {
	switch {
	case errors.Is(err, pool.ErrCredentialNotFound):
		return http.StatusNotFound
	case errors.Is(err, pool.ErrUUIDImmutable):
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}
