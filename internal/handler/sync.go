package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"teamsync-server/internal/middleware"
	"teamsync-server/internal/syncer"
)

type SyncHandler struct {
	Service *syncer.Service
}

type initialRequest struct {
	DeviceID string `json:"device_id"`
}

type pullRequest struct {
	DeviceID     string            `json:"device_id"`
	LastSyncedAt *time.Time        `json:"last_synced_at"`
	Include      []string          `json:"include"`
	Types        []string          `json:"types"`
	Limit        int               `json:"limit"`
	PageTokens   map[string]string `json:"page_tokens"`
	TeamID       string            `json:"team_id"`
}

func (r pullRequest) since() time.Time {
	if r.LastSyncedAt == nil {
		return time.Time{}
	}
	return *r.LastSyncedAt
}

func (r pullRequest) page() syncer.Page {
	tokens := make(map[syncer.EntityType]string, len(r.PageTokens))
	for k, v := range r.PageTokens {
		tokens[syncer.EntityType(k)] = v
	}
	return syncer.Page{Limit: r.Limit, Tokens: tokens, TeamID: r.TeamID}
}

type pushRequest struct {
	DeviceID string `json:"device_id"`
	syncer.PushBatch
}

type conflictBody struct {
	Type       string          `json:"type"`
	ID         string          `json:"id"`
	Resolution string          `json:"resolution"`
	LocalData  json.RawMessage `json:"local_data"`
	ServerData json.RawMessage `json:"server_data"`
}

type resolveRequest struct {
	DeviceID  string         `json:"device_id"`
	Conflicts []conflictBody `json:"conflicts"`
}

func (h *SyncHandler) Initial(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	var body initialRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	snap, err := h.Service.Initial(c.Request.Context(), userID, body.DeviceID)
	if err != nil {
		writeSyncError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *SyncHandler) Quick(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	var body pullRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	res, err := h.Service.Quick(c.Request.Context(), userID, body.DeviceID, body.since(), body.Include, body.page())
	if err != nil {
		writeSyncError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *SyncHandler) Selective(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	var body pullRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	res, err := h.Service.Selective(c.Request.Context(), userID, body.DeviceID, body.since(), body.Types, body.page())
	if err != nil {
		writeSyncError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *SyncHandler) Push(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	var body pushRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	res, err := h.Service.Push(c.Request.Context(), userID, body.DeviceID, body.PushBatch)
	if err != nil {
		writeSyncError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":             "success",
		"applied":            res.Applied,
		"skipped_duplicates": res.SkippedDuplicates,
		"sync_time":          res.SyncTime,
	})
}

func (h *SyncHandler) ResolveConflicts(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	var body resolveRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	records := make([]syncer.ConflictRecord, 0, len(body.Conflicts))
	for _, cb := range body.Conflicts {
		rec, err := syncer.DecodeConflict(cb.Type, cb.ID, cb.Resolution, cb.LocalData, cb.ServerData)
		if err != nil {
			writeSyncError(c, err)
			return
		}
		records = append(records, rec)
	}

	res, err := h.Service.ResolveConflicts(c.Request.Context(), userID, body.DeviceID, records)
	if err != nil {
		writeSyncError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":         "success",
		"resolved_count": res.ResolvedCount,
		"sync_time":      res.SyncTime,
	})
}

func (h *SyncHandler) Status(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	deviceID := c.Query("device_id")

	at, err := h.Service.Cursor(c.Request.Context(), userID, deviceID)
	if err != nil {
		writeSyncError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"device_id": deviceID, "last_synced_at": at})
}

func requireUser(c *gin.Context) (string, bool) {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
		return "", false
	}
	return userID, true
}

func writeSyncError(c *gin.Context, err error) {
	_ = c.Error(err)
	switch {
	case errors.Is(err, syncer.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, syncer.ErrUnauthorized):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, syncer.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("sync request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
