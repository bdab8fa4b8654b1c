package interfaces

import (
	"context"

	"deliverybot/internal/entities"

	"github.com/slack-go/slack"
)

type ChatClient interface {
	PostMessage(ctx context.Context, channelID, text string, blocks []slack.Block) error
	UpdateMessage(ctx context.Context, channelID, ts, text string, blocks []slack.Block) error
	OpenView(ctx context.Context, triggerID string, view slack.ModalViewRequest) error
}

type OrderStore interface {
	FindOrderByNumber(ctx context.Context, orderNumber string) (entities.Order, bool, error)
	UpdateOrderDelivery(ctx context.Context, orderID string, update entities.OrderDeliveryUpdate) error
}
