package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/betbot/apigate/internal/arbiter"
	"github.com/betbot/apigate/pkg/cache"
)

func (s *Server) handleNonceStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Issuer.GetStatus())
}

func (s *Server) handleNonceHistory(c *gin.Context) {
	if s.deps.History == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "history not enabled"})
		return
	}
	limit := 100
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	records, err := s.deps.History.Recent(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

func (s *Server) handleCacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Cache.GetStats())
}

type invalidateRequest struct {
	Pattern string `json:"pattern"`
}

func (s *Server) handleCacheInvalidate(c *gin.Context) {
	var req invalidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.Pattern) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "pattern is required"})
		return
	}
	count := s.deps.Cache.InvalidatePattern(req.Pattern)
	c.JSON(http.StatusOK, gin.H{"invalidated": count})
}

func (s *Server) handleCacheClear(c *gin.Context) {
	count := s.deps.Cache.Clear()
	c.JSON(http.StatusOK, gin.H{"cleared": count})
}

func (s *Server) handleFreshness(c *gin.Context) {
	category := cache.Category(c.Param("category"))
	if !category.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown category"})
		return
	}

	maxAge := 30 * time.Second
	if v := c.Query("max_age_seconds"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			maxAge = time.Duration(n) * time.Second
		}
	}

	resp := gin.H{
		"category":            category,
		"state":               s.deps.Tracker.StateOf(category, maxAge),
		"should_use_fallback": s.deps.Tracker.ShouldUseFallback(category, maxAge),
		"push_count":          s.deps.Tracker.PushCount(category),
	}
	if last, ok := s.deps.Tracker.LastPushAt(category); ok {
		resp["last_push_at"] = last
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleResolve(c *gin.Context) {
	if s.deps.Arbiter == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "arbiter not enabled"})
		return
	}
	key := c.Query("key")
	if strings.TrimSpace(key) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "key is required"})
		return
	}

	req := arbiter.Request{
		Key:          key,
		Endpoint:     c.Query("endpoint"),
		CredentialID: c.Query("credential_id"),
		Label:        "controlplane",
		Category:     cache.Category(c.DefaultQuery("category", string(cache.CategoryStandard))),
	}
	if v := c.Query("max_age_seconds"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			req.MaxAge = time.Duration(n) * time.Second
		}
	}

	value, source, err := s.deps.Arbiter.Resolve(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "source": source})
		return
	}
	resp := gin.H{"key": key, "source": source}
	if raw, ok := value.([]byte); ok {
		resp["value"] = string(raw)
	} else {
		resp["value"] = value
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleCredentialsList(c *gin.Context) {
	if s.deps.Creds == nil {
		c.JSON(http.StatusOK, gin.H{"credentials": gin.H{}})
		return
	}
	creds, err := s.deps.Creds.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"credentials": creds})
}

type registerRequest struct {
	CredentialID string `json:"credential_id"`
	Label        string `json:"label"`
}

func (s *Server) handleCredentialsRegister(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.Label) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "label is required"})
		return
	}
	if strings.TrimSpace(req.CredentialID) == "" {
		req.CredentialID = uuid.NewString()
	}

	if s.deps.Creds != nil {
		if err := s.deps.Creds.Put(req.CredentialID, req.Label); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	}
	s.deps.Issuer.RegisterCredential(req.CredentialID, req.Label)

	c.JSON(http.StatusOK, gin.H{
		"credential_id": req.CredentialID,
		"label":         req.Label,
	})
}
