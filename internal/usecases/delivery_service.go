package usecases

import (
	"context"
	"strings"
	"time"

	"deliverybot/internal/entities"
	"deliverybot/internal/infrastructure"
	"deliverybot/internal/interfaces"
	"deliverybot/internal/metrics"

	"go.uber.org/zap"
)

// AckFunc acknowledges an interaction to Slack. It must run before any
// slow call.
type AckFunc func()

// DeliveryService runs the delivery confirmation workflow: prompt, decision
// and approval form. No handler returns an error; failures are logged.
type DeliveryService struct {
	chat   interfaces.ChatClient
	orders interfaces.OrderStore
	log    *zap.Logger

	// Guard optionally debounces decisions per prompt. Nil disables it.
	Guard *infrastructure.DecisionGuard
}

// NewDeliveryService creates the workflow service. orders may be nil, in
// which case order updates are skipped.
func NewDeliveryService(chat interfaces.ChatClient, orders interfaces.OrderStore, log *zap.Logger) *DeliveryService {
	if log == nil {
		log = zap.NewNop()
	}
	return &DeliveryService{
		chat:   chat,
		orders: orders,
		log:    log.Named("delivery"),
	}
}

// HandleDeliveryMessage posts a confirmation prompt for a matched delivery
// message. matches holds the pattern's capture groups, the first being the
// delivery id.
func (s *DeliveryService) HandleDeliveryMessage(ctx context.Context, msg entities.IncomingMessage, matches []string) {
	defer s.recoverPanic("delivery_message", zap.String("channel", msg.Channel))

	if len(matches) == 0 || strings.TrimSpace(matches[0]) == "" {
		err := entities.ParseError("delivery pattern matched without a captured id", map[string]any{
			"channel": msg.Channel,
			"ts":      msg.TS,
		})
		s.log.Error("delivery_prompt_failed", zap.String("channel", msg.Channel), zap.Error(err))
		metrics.DeliveryPromptsTotal.WithLabelValues(metrics.OutcomeError).Inc()
		return
	}
	id := entities.DeliveryID(strings.TrimSpace(matches[0]))

	text, blocks := ConfirmationPrompt(id)
	if err := s.chat.PostMessage(ctx, msg.Channel, text, blocks); err != nil {
		s.log.Error("delivery_prompt_failed",
			zap.String("delivery_id", id.String()),
			zap.String("channel", msg.Channel),
			zap.Error(err),
		)
		metrics.DeliveryPromptsTotal.WithLabelValues(metrics.OutcomeError).Inc()
		return
	}

	s.log.Info("delivery_prompt_posted",
		zap.String("delivery_id", id.String()),
		zap.String("channel", msg.Channel),
		zap.String("user_id", msg.User),
	)
	metrics.DeliveryPromptsTotal.WithLabelValues(metrics.OutcomeOK).Inc()
}

// HandleApprove replaces the prompt with a processed notice and opens the
// approval form.
func (s *DeliveryService) HandleApprove(ctx context.Context, ack AckFunc, evt entities.DecisionEvent) {
	const decision = "approve"
	defer s.recoverPanic("approve_delivery", zap.String("user_id", evt.UserID))
	if ack != nil {
		ack()
	}

	id, release, ok := s.beginDecision(decision, evt)
	if !ok {
		return
	}
	succeeded := false
	defer func() { release(succeeded) }()

	text, blocks := ProcessedNotice(id)
	if err := s.chat.UpdateMessage(ctx, evt.ChannelID, evt.MessageTS, text, blocks); err != nil {
		s.decisionFailed(decision, id, evt, err)
		return
	}

	if err := s.chat.OpenView(ctx, evt.TriggerID, ApprovalModal(id, evt.ChannelID)); err != nil {
		s.decisionFailed(decision, id, evt, err)
		return
	}

	succeeded = true
	s.log.Info("approval_modal_opened",
		zap.String("delivery_id", id.String()),
		zap.String("user_id", evt.UserID),
	)
	metrics.DeliveryDecisionsTotal.WithLabelValues(decision, metrics.OutcomeOK).Inc()
}

// HandleDeny replaces the prompt with an incorrect notice.
func (s *DeliveryService) HandleDeny(ctx context.Context, ack AckFunc, evt entities.DecisionEvent) {
	const decision = "deny"
	defer s.recoverPanic("deny_delivery", zap.String("user_id", evt.UserID))
	if ack != nil {
		ack()
	}

	id, release, ok := s.beginDecision(decision, evt)
	if !ok {
		return
	}
	succeeded := false
	defer func() { release(succeeded) }()

	text, blocks := IncorrectNotice(id)
	if err := s.chat.UpdateMessage(ctx, evt.ChannelID, evt.MessageTS, text, blocks); err != nil {
		s.decisionFailed(decision, id, evt, err)
		return
	}

	succeeded = true
	s.log.Info("delivery_denied",
		zap.String("delivery_id", id.String()),
		zap.String("user_id", evt.UserID),
	)
	metrics.DeliveryDecisionsTotal.WithLabelValues(decision, metrics.OutcomeOK).Inc()
}

// HandleApprovalSubmission posts the approval summary to the chosen channel
// and then updates the matching order. The order update never affects the
// outcome of the submission.
func (s *DeliveryService) HandleApprovalSubmission(ctx context.Context, ack AckFunc, sub entities.ApprovalSubmission) {
	defer s.recoverPanic("approve_delivery_view", zap.String("user_id", sub.UserID))
	if ack != nil {
		ack()
	}

	id := entities.DeliveryID(strings.TrimSpace(sub.DeliveryID.String()))
	if id == "" {
		s.submissionFailed(id, entities.ParseError("approval form is missing the delivery id", nil))
		return
	}
	if strings.TrimSpace(sub.Channel) == "" {
		s.submissionFailed(id, entities.ParseError("approval form is missing the notification channel", map[string]any{
			"delivery_id": id.String(),
		}))
		return
	}

	text, blocks := ApprovalSummary(id, sub.Notes, sub.Location)
	if err := s.chat.PostMessage(ctx, sub.Channel, text, blocks); err != nil {
		s.submissionFailed(id, err)
		return
	}
	s.log.Info("delivery_approved",
		zap.String("delivery_id", id.String()),
		zap.String("channel", sub.Channel),
		zap.String("user_id", sub.UserID),
	)
	metrics.DeliveryApprovalsTotal.WithLabelValues(metrics.OutcomeOK).Inc()

	s.logSyncResult(s.SyncOrder(ctx, id, sub.Notes, sub.Location))
}

// SyncOrder marks the order matching the delivery's numeric projection as
// delivered. Every failure, panics included, is captured in the result.
func (s *DeliveryService) SyncOrder(ctx context.Context, id entities.DeliveryID, notes, location string) (result entities.CRMSyncResult) {
	start := time.Now()
	result = entities.CRMSyncResult{
		DeliveryID:  id,
		OrderNumber: id.OrderNumber(),
	}
	defer func() {
		if r := recover(); r != nil {
			result.Outcome = entities.SyncFailed
			result.Err = entities.PanicError(r, map[string]any{"delivery_id": id.String()})
		}
		result.Duration = time.Since(start)
		metrics.CRMSyncTotal.WithLabelValues(string(result.Outcome)).Inc()
		if result.Outcome != entities.SyncSkipped {
			metrics.CRMSyncDuration.Observe(result.Duration.Seconds())
		}
	}()

	if s.orders == nil {
		result.Outcome = entities.SyncSkipped
		return result
	}
	if result.OrderNumber == "" {
		result.Outcome = entities.SyncSkipped
		result.Err = entities.ParseError("delivery id has no digits to match an order", map[string]any{
			"delivery_id": id.String(),
		})
		return result
	}

	order, found, err := s.orders.FindOrderByNumber(ctx, result.OrderNumber)
	if err != nil {
		result.Outcome = entities.SyncFailed
		result.Err = err
		return result
	}
	if !found {
		result.Outcome = entities.SyncNotFound
		result.Err = entities.OrderNotFoundError(result.OrderNumber)
		return result
	}
	result.OrderID = order.ID

	if err := s.orders.UpdateOrderDelivery(ctx, order.ID, entities.NewOrderDeliveryUpdate(notes, location)); err != nil {
		result.Outcome = entities.SyncFailed
		result.Err = err
		return result
	}

	result.Outcome = entities.SyncUpdated
	return result
}

func (s *DeliveryService) logSyncResult(result entities.CRMSyncResult) {
	fields := []zap.Field{
		zap.String("delivery_id", result.DeliveryID.String()),
		zap.String("order_number", result.OrderNumber),
		zap.String("outcome", string(result.Outcome)),
		zap.Duration("duration", result.Duration),
	}
	if result.OrderID != "" {
		fields = append(fields, zap.String("order_id", result.OrderID))
	}
	if result.Err != nil {
		fields = append(fields, zap.Error(result.Err))
	}

	switch result.Outcome {
	case entities.SyncUpdated:
		s.log.Info("order_updated", fields...)
	case entities.SyncNotFound:
		s.log.Warn("order_not_found", fields...)
	case entities.SyncSkipped:
		if result.Err != nil {
			s.log.Warn("order_sync_skipped", fields...)
		} else {
			s.log.Debug("order_sync_skipped", fields...)
		}
	default:
		s.log.Error("order_update_failed", fields...)
	}
}

// beginDecision resolves the delivery id of a clicked prompt and takes the
// guard. ok is false when the decision must not proceed.
func (s *DeliveryService) beginDecision(decision string, evt entities.DecisionEvent) (entities.DeliveryID, func(bool), bool) {
	id := entities.DeliveryID(strings.TrimSpace(evt.DeliveryID.String()))
	if id == "" {
		parsed, err := entities.ParseDeliveryID(evt.MessageText)
		if err != nil {
			s.decisionFailed(decision, "", evt, err)
			return "", nil, false
		}
		id = parsed
	}

	release, ok := s.Guard.Begin(evt.ChannelID, evt.MessageTS)
	if !ok {
		s.log.Info("decision_suppressed",
			zap.String("decision", decision),
			zap.String("delivery_id", id.String()),
			zap.String("user_id", evt.UserID),
		)
		metrics.DeliveryDecisionsTotal.WithLabelValues(decision, metrics.OutcomeSuppressed).Inc()
		return "", nil, false
	}
	return id, release, true
}

func (s *DeliveryService) decisionFailed(decision string, id entities.DeliveryID, evt entities.DecisionEvent, err error) {
	s.log.Error("decision_failed",
		zap.String("decision", decision),
		zap.String("delivery_id", id.String()),
		zap.String("channel", evt.ChannelID),
		zap.String("user_id", evt.UserID),
		zap.Error(err),
	)
	metrics.DeliveryDecisionsTotal.WithLabelValues(decision, metrics.OutcomeError).Inc()
}

func (s *DeliveryService) submissionFailed(id entities.DeliveryID, err error) {
	s.log.Error("approval_submission_failed", zap.String("delivery_id", id.String()), zap.Error(err))
	metrics.DeliveryApprovalsTotal.WithLabelValues(metrics.OutcomeError).Inc()
}

// recoverPanic is deferred by every handler so no panic reaches the host.
func (s *DeliveryService) recoverPanic(handler string, fields ...zap.Field) {
	if r := recover(); r != nil {
		err := entities.PanicError(r, map[string]any{"handler": handler})
		fields = append(fields, zap.String("handler", handler), zap.Error(err), zap.Stack("stack"))
		s.log.Error("handler_panicked", fields...)
	}
}
