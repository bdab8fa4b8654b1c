package http

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"deliverybot/internal/entities"
	"deliverybot/internal/infrastructure"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	eventsPath       = "/slack/events"
	interactionsPath = "/slack/interactions"

	// Slack drops interaction responses slower than 3s.
	defaultAckTimeout = 2500 * time.Millisecond
	maxRequestBytes   = 1 << 20
)

// RouteOptions configures SetupRoutes.
type RouteOptions struct {
	// SlackEndpoints mounts the Events API and interactivity endpoints.
	SlackEndpoints bool
	RateLimit      rate.Limit
	RateBurst      int
}

type Handler struct {
	dispatcher infrastructure.SlackDispatcher
	ackTimeout time.Duration
	log        *zap.Logger
	wg         sync.WaitGroup
}

func NewHandler(dispatcher infrastructure.SlackDispatcher, log *zap.Logger) *Handler {
	return &Handler{
		dispatcher: dispatcher,
		ackTimeout: defaultAckTimeout,
		log:        log.Named("slack_http"),
	}
}

func SetupRoutes(r *gin.Engine, h *Handler, middleware *Middleware, opts RouteOptions) {
	r.Use(middleware.Recovery())
	r.Use(middleware.AccessLog())
	r.Use(SecurityHeaders())
	r.Use(RequestSizeLimiter(maxRequestBytes))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if !opts.SlackEndpoints {
		return
	}
	slackGroup := r.Group("/slack")
	slackGroup.Use(middleware.RateLimitPerClient(opts.RateLimit, opts.RateBurst))
	slackGroup.Use(middleware.VerifySlackSignature())
	{
		slackGroup.POST("/events", h.HandleEvents)
		slackGroup.POST("/interactions", h.HandleInteractions)
	}
}

// HandleEvents answers url_verification and dispatches callback events
// after responding, so Slack never waits on a handler.
func (h *Handler) HandleEvents(c *gin.Context) {
	raw, _ := c.Get(rawBodyKey)
	body, _ := raw.([]byte)

	event, err := slackevents.ParseEvent(json.RawMessage(body), slackevents.OptionNoVerifyToken())
	if err != nil {
		h.log.Warn("event_parse_failed", zap.Error(entities.ParseError(err.Error(), nil)))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid event payload"})
		return
	}

	switch event.Type {
	case slackevents.URLVerification:
		var challenge slackevents.ChallengeResponse
		if err := json.Unmarshal(body, &challenge); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid challenge"})
			return
		}
		c.String(http.StatusOK, challenge.Challenge)

	case slackevents.CallbackEvent:
		if retry := c.GetHeader("X-Slack-Retry-Num"); retry != "" {
			h.log.Info("event_retry_received",
				zap.String("retry_num", retry),
				zap.String("reason", c.GetHeader("X-Slack-Retry-Reason")),
			)
		}
		ctx := context.WithoutCancel(c.Request.Context())
		h.spawn(func() {
			if err := h.dispatcher.DispatchEvent(ctx, event); err != nil {
				h.log.Error("event_dispatch_failed", zap.Error(err))
			}
		})
		c.Status(http.StatusOK)

	default:
		c.Status(http.StatusOK)
	}
}

// HandleInteractions dispatches a block action or view submission and
// responds as soon as the handler acks.
func (h *Handler) HandleInteractions(c *gin.Context) {
	var cb slack.InteractionCallback
	if err := json.Unmarshal([]byte(c.PostForm("payload")), &cb); err != nil {
		h.log.Warn("interaction_parse_failed", zap.Error(entities.ParseError(err.Error(), nil)))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid interaction payload"})
		return
	}

	acked := make(chan struct{})
	var once sync.Once
	ack := func() { once.Do(func() { close(acked) }) }
	done := make(chan error, 1)

	ctx := context.WithoutCancel(c.Request.Context())
	h.spawn(func() {
		done <- h.dispatcher.DispatchInteraction(ctx, ack, cb)
	})

	timer := time.NewTimer(h.ackTimeout)
	defer timer.Stop()

	select {
	case <-acked:
		c.Status(http.StatusOK)
	case err := <-done:
		if entities.HasTextCode(err, entities.ErrorDispatchNotFound) {
			h.log.Warn("interaction_unhandled", zap.String("type", string(cb.Type)), zap.Error(err))
			c.JSON(http.StatusNotFound, gin.H{"error": "No handler for interaction"})
			return
		}
		if err != nil {
			h.log.Error("interaction_dispatch_failed", zap.Error(err))
		}
		c.Status(http.StatusOK)
	case <-timer.C:
		h.log.Warn("interaction_ack_timeout", zap.String("type", string(cb.Type)))
		c.Status(http.StatusOK)
	}
}

// Wait blocks until dispatched handlers have returned.
func (h *Handler) Wait() {
	h.wg.Wait()
}

func (h *Handler) spawn(fn func()) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		fn()
	}()
}
