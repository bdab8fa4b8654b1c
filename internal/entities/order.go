package entities

import (
	"strings"
	"time"
)

// OrderStatusDelivered is written to an order once its delivery is approved.
const OrderStatusDelivered = "Delivered"

// Order is the CRM order record matched by its order number.
type Order struct {
	ID          string
	OrderNumber string
}

// OrderDeliveryUpdate is the set of fields changed on an approved order.
// Nil pointers clear the field.
type OrderDeliveryUpdate struct {
	Status           string
	Description      *string
	ShippingLocation *string
}

// NewOrderDeliveryUpdate builds the update for an approved delivery. Blank
// notes or location clear the matching field.
func NewOrderDeliveryUpdate(notes, location string) OrderDeliveryUpdate {
	return OrderDeliveryUpdate{
		Status:           OrderStatusDelivered,
		Description:      optionalString(notes),
		ShippingLocation: optionalString(location),
	}
}

func optionalString(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}

type SyncOutcome string

const (
	SyncUpdated  SyncOutcome = "updated"
	SyncNotFound SyncOutcome = "not_found"
	SyncSkipped  SyncOutcome = "skipped"
	SyncFailed   SyncOutcome = "failed"
)

// CRMSyncResult reports a best-effort order update. It is only used for
// logging and metrics.
type CRMSyncResult struct {
	Outcome     SyncOutcome
	DeliveryID  DeliveryID
	OrderNumber string
	OrderID     string
	Duration    time.Duration
	Err         error
}
