package handler

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/SnakeO/gps-catcher/internal/api/middleware"
	"github.com/SnakeO/gps-catcher/internal/cache"
	"github.com/SnakeO/gps-catcher/internal/core/model"
	"github.com/SnakeO/gps-catcher/internal/core/repository"
	"github.com/SnakeO/gps-catcher/internal/core/service"
)

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 1000
)

type FenceChecker interface {
	Run(ctx context.Context) (service.CheckResult, error)
}

type AlertDispatcher interface {
	DispatchPending(ctx context.Context) (service.DispatchResult, error)
}

type GeofenceHandler struct {
	fences     repository.GeofenceRepository
	states     repository.FenceStateRepository
	checker    FenceChecker
	dispatcher AlertDispatcher
	logger     logrus.FieldLogger
}

func NewGeofenceHandler(
	fences repository.GeofenceRepository,
	states repository.FenceStateRepository,
	checker FenceChecker,
	dispatcher AlertDispatcher,
	logger logrus.FieldLogger,
) *GeofenceHandler {
	return &GeofenceHandler{
		fences:     fences,
		states:     states,
		checker:    checker,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Check runs one geofence check pass.
func (h *GeofenceHandler) Check(c *gin.Context) {
	result, err := h.checker.Run(c.Request.Context())
	if errors.Is(err, cache.ErrLockHeld) {
		c.JSON(http.StatusConflict, gin.H{"success": false, "message": "a geofence check is already running"})
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("Geofence check failed")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": err.Error(), "data": result})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": result})
}

// Work runs one alert dispatch pass.
func (h *GeofenceHandler) Work(c *gin.Context) {
	result, err := h.dispatcher.DispatchPending(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Error("Alert dispatch failed")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": result})
}

type createGeofenceRequest struct {
	ESN           string `json:"esn" binding:"required"`
	Fence         string `json:"fence" binding:"required"`
	AlertType     string `json:"alert_type"`
	WebhookURL    string `json:"webhook_url" binding:"required"`
	Meta          string `json:"meta"`
	IsSingleAlert bool   `json:"is_single_alert"`
}

func (h *GeofenceHandler) Create(c *gin.Context) {
	var req createGeofenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid request format", "details": err.Error()})
		return
	}

	if req.AlertType == "" {
		req.AlertType = string(model.AlertBoth)
	}
	alertType, err := model.ParseAlertType(req.AlertType)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}
	if !strings.HasPrefix(strings.ToUpper(strings.TrimSpace(req.Fence)), "POLYGON") {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "fence must be a WKT POLYGON"})
		return
	}
	if u, err := url.Parse(req.WebhookURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "webhook_url must be an absolute http(s) URL"})
		return
	}

	fence := &model.Geofence{
		ESN:           req.ESN,
		Fence:         strings.TrimSpace(req.Fence),
		Meta:          req.Meta,
		IsSingleAlert: req.IsSingleAlert,
		AlertType:     alertType,
		WebhookURL:    req.WebhookURL,
	}
	if err := h.fences.Create(c.Request.Context(), fence); err != nil {
		h.logger.WithError(err).Error("Failed to create geofence")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "failed to create geofence"})
		return
	}

	h.logger.WithFields(logrus.Fields{
		"geofence_id": fence.ID,
		"esn":         fence.ESN,
		"subject":     c.GetString(middleware.SubjectKey),
	}).Info("Geofence created")
	c.JSON(http.StatusCreated, gin.H{"success": true, "data": fence})
}

func (h *GeofenceHandler) List(c *gin.Context) {
	esn := c.Query("esn")
	if esn == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "esn is required"})
		return
	}

	fences, err := h.fences.FindByESN(c.Request.Context(), esn)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "failed to list geofences"})
		return
	}
	if fences == nil {
		fences = []model.Geofence{}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": fences, "count": len(fences)})
}

func (h *GeofenceHandler) Delete(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	err := h.fences.Delete(c.Request.Context(), id)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "geofence not found"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "failed to delete geofence"})
	default:
		c.Status(http.StatusNoContent)
	}
}

// States returns the fence-state history of one geofence, newest first.
func (h *GeofenceHandler) States(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	limit := defaultHistoryLimit
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid limit"})
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	if _, err := h.fences.FindByID(c.Request.Context(), id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "geofence not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "failed to load geofence"})
		return
	}

	states, err := h.states.History(c.Request.Context(), id, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "failed to load fence states"})
		return
	}
	if states == nil {
		states = []model.FenceState{}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": states})
}

func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid geofence id"})
		return 0, false
	}
	return id, true
}
