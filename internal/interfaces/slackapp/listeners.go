package slackapp

import (
	"context"
	"regexp"
	"strings"

	"deliverybot/internal/entities"
	"deliverybot/internal/usecases"

	"github.com/slack-go/slack"
)

// Register wires the delivery workflow into the dispatcher.
func Register(d *Dispatcher, svc *usecases.DeliveryService, pattern *regexp.Regexp) error {
	if err := d.Message(pattern, svc.HandleDeliveryMessage); err != nil {
		return err
	}
	if err := d.Action(usecases.ActionApproveDelivery, func(ctx context.Context, ack usecases.AckFunc, cb slack.InteractionCallback) {
		svc.HandleApprove(ctx, ack, DecisionEventFrom(cb))
	}); err != nil {
		return err
	}
	if err := d.Action(usecases.ActionDenyDelivery, func(ctx context.Context, ack usecases.AckFunc, cb slack.InteractionCallback) {
		svc.HandleDeny(ctx, ack, DecisionEventFrom(cb))
	}); err != nil {
		return err
	}
	return d.ViewSubmission(usecases.CallbackApproveView, func(ctx context.Context, ack usecases.AckFunc, cb slack.InteractionCallback) {
		svc.HandleApprovalSubmission(ctx, ack, ApprovalSubmissionFrom(cb))
	})
}

// DecisionEventFrom extracts a button click on a delivery prompt.
func DecisionEventFrom(cb slack.InteractionCallback) entities.DecisionEvent {
	evt := entities.DecisionEvent{
		ChannelID:   cb.Container.ChannelID,
		MessageTS:   cb.Container.MessageTs,
		TriggerID:   cb.TriggerID,
		UserID:      cb.User.ID,
		MessageText: cb.Message.Text,
	}
	if evt.ChannelID == "" {
		evt.ChannelID = cb.Channel.ID
	}
	if evt.MessageTS == "" {
		evt.MessageTS = cb.Message.Timestamp
	}
	if len(cb.ActionCallback.BlockActions) > 0 {
		action := cb.ActionCallback.BlockActions[0]
		evt.ActionID = action.ActionID
		evt.DeliveryID = deliveryIDFrom(action.Value)
	}
	return evt
}

// ApprovalSubmissionFrom extracts the approval form values. Unknown or
// malformed channel selections are left empty.
func ApprovalSubmissionFrom(cb slack.InteractionCallback) entities.ApprovalSubmission {
	sub := entities.ApprovalSubmission{
		DeliveryID: deliveryIDFrom(cb.View.PrivateMetadata),
		UserID:     cb.User.ID,
	}
	if cb.View.State == nil {
		return sub
	}

	values := cb.View.State.Values
	sub.Notes = cleanValue(values[usecases.BlockNotes][usecases.ActionNotesInput].Value, MaxNotesLength)
	sub.Location = cleanValue(values[usecases.BlockLocation][usecases.ActionLocationInput].Value, MaxLocationLength)

	if channel := values[usecases.BlockChannel][usecases.ActionChannelSelect].SelectedChannel; ValidChannelID(channel) {
		sub.Channel = channel
	}
	return sub
}

// deliveryIDFrom reads an identifier carried in a button value or view
// metadata. It is never shortened so it round-trips to the CRM unchanged.
func deliveryIDFrom(raw string) entities.DeliveryID {
	return entities.DeliveryID(strings.TrimSpace(SanitizeString(raw)))
}
