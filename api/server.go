// Package api exposes the delivery engine over HTTP. Handlers translate
// JSON requests into engine calls and map every error through the canonical
// envelope, so clients see stable text codes regardless of which layer failed.
package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-dispatch/core"
)

// Service is the slice of the engine the HTTP surface needs.
type Service interface {
	Dispatch(ctx context.Context, event core.Event) (core.DispatchReceipt, error)
	Job(ctx context.Context, id string) (core.Job, error)
	RetryJob(ctx context.Context, id string) (core.Job, error)
	JobCounts(ctx context.Context, lane string) (map[core.JobStatus]int, error)
	RegisterWebhook(ctx context.Context, registration core.WebhookRegistration) (core.WebhookRegistration, error)
	UpdateWebhook(ctx context.Context, registration core.WebhookRegistration) (core.WebhookRegistration, error)
	SetWebhookActive(ctx context.Context, id string, active bool) (core.WebhookRegistration, error)
	DeleteWebhook(ctx context.Context, id string) error
	Webhook(ctx context.Context, id string) (core.WebhookRegistration, error)
	Webhooks(ctx context.Context) ([]core.WebhookRegistration, error)
	Preferences(ctx context.Context, userID string) (core.NotificationPreferences, error)
	SavePreferences(ctx context.Context, preferences core.NotificationPreferences) (core.NotificationPreferences, error)
	DeliveryHistory(ctx context.Context, filter core.AttemptFilter) ([]core.DeliveryAttempt, error)
	MarkAttemptRead(ctx context.Context, attemptID string) error
	PutTemplate(ctx context.Context, template core.NotificationTemplate) error
}

type Server struct {
	service        Service
	logger         glog.Logger
	metricsHandler http.Handler
}

type Option func(*Server)

func WithLogger(logger glog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMetricsHandler mounts the handler at GET /metrics.
func WithMetricsHandler(handler http.Handler) Option {
	return func(s *Server) {
		s.metricsHandler = handler
	}
}

func NewServer(service Service, options ...Option) (*Server, error) {
	if service == nil {
		return nil, core.MapError(badInputError("api: service is required"))
	}
	server := &Server{service: service}
	for _, opt := range options {
		if opt == nil {
			continue
		}
		opt(server)
	}
	server.logger = glog.Ensure(server.logger)
	return server, nil
}

// Router builds the gin engine with all routes mounted.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowHeaders = []string{"Content-Type", "Authorization"}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	router.Use(cors.New(corsConfig))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if s.metricsHandler != nil {
		router.GET("/metrics", gin.WrapH(s.metricsHandler))
	}

	v1 := router.Group("/v1")
	v1.POST("/events", s.dispatchEvent)
	v1.GET("/jobs/counts", s.jobCounts)
	v1.GET("/jobs/:id", s.getJob)
	v1.POST("/jobs/:id/retry", s.retryJob)
	v1.POST("/webhooks", s.registerWebhook)
	v1.GET("/webhooks", s.listWebhooks)
	v1.GET("/webhooks/:id", s.getWebhook)
	v1.PUT("/webhooks/:id", s.updateWebhook)
	v1.PATCH("/webhooks/:id/active", s.setWebhookActive)
	v1.DELETE("/webhooks/:id", s.deleteWebhook)
	v1.GET("/users/:user_id/preferences", s.getPreferences)
	v1.PUT("/users/:user_id/preferences", s.savePreferences)
	v1.GET("/attempts", s.deliveryHistory)
	v1.POST("/attempts/:id/read", s.markAttemptRead)
	v1.PUT("/templates", s.putTemplate)
	return router
}

type dispatchEventRequest struct {
	Name     string         `json:"name" binding:"required"`
	Payload  map[string]any `json:"payload"`
	Priority int            `json:"priority"`
	Channels []string       `json:"channels"`
	UserID   string         `json:"user_id"`
	Metadata map[string]any `json:"metadata"`
}

func (s *Server) dispatchEvent(c *gin.Context) {
	var req dispatchEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, badInputError("invalid json: "+err.Error()))
		return
	}

	event := core.Event{
		Name:     strings.TrimSpace(req.Name),
		Payload:  req.Payload,
		Priority: req.Priority,
		UserID:   strings.TrimSpace(req.UserID),
		Metadata: req.Metadata,
	}
	for _, raw := range req.Channels {
		channel, err := core.NormalizeChannel(raw)
		if err != nil {
			s.respondError(c, err)
			return
		}
		event.Channels = append(event.Channels, channel)
	}

	receipt, err := s.service.Dispatch(c.Request.Context(), event)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, receipt)
}

func (s *Server) getJob(c *gin.Context) {
	job, err := s.service.Job(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, jobResponse(job))
}

func (s *Server) retryJob(c *gin.Context) {
	job, err := s.service.RetryJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, jobResponse(job))
}

func (s *Server) jobCounts(c *gin.Context) {
	counts, err := s.service.JobCounts(c.Request.Context(), c.Query("lane"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"lane": c.Query("lane"), "counts": counts})
}

type webhookRequest struct {
	Endpoint    string            `json:"endpoint" binding:"required"`
	Events      []string          `json:"events" binding:"required"`
	Secret      string            `json:"secret"`
	Active      *bool             `json:"active"`
	Headers     map[string]string `json:"headers"`
	MaxAttempts int               `json:"max_attempts"`
	BaseDelayMS int               `json:"base_delay_ms"`
}

func (r webhookRequest) toRegistration(id string) core.WebhookRegistration {
	registration := core.WebhookRegistration{
		ID:       id,
		Endpoint: strings.TrimSpace(r.Endpoint),
		Events:   r.Events,
		Secret:   r.Secret,
		Headers:  r.Headers,
		RetryPolicy: core.WebhookRetryPolicy{
			MaxAttempts: r.MaxAttempts,
			BaseDelay:   time.Duration(r.BaseDelayMS) * time.Millisecond,
		},
	}
	if r.Active != nil {
		registration.Active = *r.Active
	} else {
		registration.Active = true
	}
	return registration
}

func (s *Server) registerWebhook(c *gin.Context) {
	var req webhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, badInputError("invalid json: "+err.Error()))
		return
	}
	created, err := s.service.RegisterWebhook(c.Request.Context(), req.toRegistration(""))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, registrationResponse(created))
}

func (s *Server) updateWebhook(c *gin.Context) {
	var req webhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, badInputError("invalid json: "+err.Error()))
		return
	}
	updated, err := s.service.UpdateWebhook(c.Request.Context(), req.toRegistration(c.Param("id")))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, registrationResponse(updated))
}

type webhookActiveRequest struct {
	Active *bool `json:"active" binding:"required"`
}

func (s *Server) setWebhookActive(c *gin.Context) {
	var req webhookActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, badInputError("invalid json: "+err.Error()))
		return
	}
	updated, err := s.service.SetWebhookActive(c.Request.Context(), c.Param("id"), *req.Active)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, registrationResponse(updated))
}

func (s *Server) deleteWebhook(c *gin.Context) {
	if err := s.service.DeleteWebhook(c.Request.Context(), c.Param("id")); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) getWebhook(c *gin.Context) {
	registration, err := s.service.Webhook(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, registrationResponse(registration))
}

func (s *Server) listWebhooks(c *gin.Context) {
	registrations, err := s.service.Webhooks(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	out := make([]gin.H, 0, len(registrations))
	for _, registration := range registrations {
		out = append(out, registrationResponse(registration))
	}
	c.JSON(http.StatusOK, gin.H{"webhooks": out})
}

type preferencesRequest struct {
	Channels   map[string]bool `json:"channels"`
	QuietHours *struct {
		Start    string `json:"start"`
		End      string `json:"end"`
		Timezone string `json:"timezone"`
	} `json:"quiet_hours"`
}

func (s *Server) getPreferences(c *gin.Context) {
	preferences, err := s.service.Preferences(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, preferencesResponse(preferences))
}

func (s *Server) savePreferences(c *gin.Context) {
	var req preferencesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, badInputError("invalid json: "+err.Error()))
		return
	}

	preferences := core.NotificationPreferences{
		UserID:   c.Param("user_id"),
		Channels: map[core.Channel]bool{},
	}
	for raw, enabled := range req.Channels {
		channel, err := core.NormalizeChannel(raw)
		if err != nil {
			s.respondError(c, err)
			return
		}
		preferences.Channels[channel] = enabled
	}
	if req.QuietHours != nil {
		preferences.QuietHours = &core.QuietHours{
			Start:    req.QuietHours.Start,
			End:      req.QuietHours.End,
			Timezone: req.QuietHours.Timezone,
		}
	}

	saved, err := s.service.SavePreferences(c.Request.Context(), preferences)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, preferencesResponse(saved))
}

func (s *Server) deliveryHistory(c *gin.Context) {
	filter := core.AttemptFilter{
		JobID:          c.Query("job_id"),
		RegistrationID: c.Query("registration_id"),
		Recipient:      c.Query("recipient"),
		Event:          c.Query("event"),
	}
	if raw := strings.TrimSpace(c.Query("channel")); raw != "" {
		channel, err := core.NormalizeChannel(raw)
		if err != nil {
			s.respondError(c, err)
			return
		}
		filter.Channel = channel
	}
	if raw := strings.TrimSpace(c.Query("outcome")); raw != "" {
		filter.Outcome = core.AttemptOutcome(raw)
	}
	if raw := strings.TrimSpace(c.Query("since")); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			s.respondError(c, badInputError("since must be an RFC 3339 timestamp"))
			return
		}
		filter.Since = since
	}
	if raw := strings.TrimSpace(c.Query("until")); raw != "" {
		until, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			s.respondError(c, badInputError("until must be an RFC 3339 timestamp"))
			return
		}
		filter.Until = until
	}
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			s.respondError(c, badInputError("limit must be a non-negative integer"))
			return
		}
		filter.Limit = limit
	}

	attempts, err := s.service.DeliveryHistory(c.Request.Context(), filter)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"attempts": attempts})
}

func (s *Server) markAttemptRead(c *gin.Context) {
	if err := s.service.MarkAttemptRead(c.Request.Context(), c.Param("id")); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type templateRequest struct {
	Name     string   `json:"name" binding:"required"`
	Channels []string `json:"channels"`
	Title    string   `json:"title"`
	Body     string   `json:"body"`
}

func (s *Server) putTemplate(c *gin.Context) {
	var req templateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, badInputError("invalid json: "+err.Error()))
		return
	}
	template := core.NotificationTemplate{
		Name:  strings.TrimSpace(req.Name),
		Title: req.Title,
		Body:  req.Body,
	}
	for _, raw := range req.Channels {
		channel, err := core.NormalizeChannel(raw)
		if err != nil {
			s.respondError(c, err)
			return
		}
		template.Channels = append(template.Channels, channel)
	}
	if err := s.service.PutTemplate(c.Request.Context(), template); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func jobResponse(job core.Job) gin.H {
	out := gin.H{
		"id":           job.ID,
		"lane":         job.Lane,
		"status":       string(job.Status),
		"priority":     job.Priority,
		"attempts":     job.Attempts,
		"max_attempts": job.MaxAttempts,
		"scheduled_at": job.ScheduledAt,
		"last_error":   job.LastError,
		"created_at":   job.CreatedAt,
		"updated_at":   job.UpdatedAt,
	}
	if job.LeaseExpiresAt != nil {
		out["lease_expires_at"] = *job.LeaseExpiresAt
	}
	return out
}

// registrationResponse never echoes the signing secret back to clients.
func registrationResponse(registration core.WebhookRegistration) gin.H {
	return gin.H{
		"id":            registration.ID,
		"endpoint":      registration.Endpoint,
		"events":        registration.Events,
		"active":        registration.Active,
		"headers":       core.RedactHeaders(registration.Headers),
		"max_attempts":  registration.RetryPolicy.MaxAttempts,
		"base_delay_ms": registration.RetryPolicy.BaseDelay.Milliseconds(),
		"created_at":    registration.CreatedAt,
		"updated_at":    registration.UpdatedAt,
	}
}

func preferencesResponse(preferences core.NotificationPreferences) gin.H {
	out := gin.H{
		"user_id":  preferences.UserID,
		"channels": preferences.Channels,
	}
	if preferences.QuietHours != nil {
		out["quiet_hours"] = gin.H{
			"start":    preferences.QuietHours.Start,
			"end":      preferences.QuietHours.End,
			"timezone": preferences.QuietHours.Timezone,
		}
	}
	return out
}
