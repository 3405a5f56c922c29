package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"despacho/internal/domain"
)

// NotificationType represents the type of notification.
type NotificationType string

const (
	NotificationDeliveryStarted   NotificationType = "DELIVERY_STARTED"
	NotificationDeliveryCompleted NotificationType = "DELIVERY_COMPLETED"
	NotificationLedgerCompleted   NotificationType = "LEDGER_COMPLETED"
	NotificationOperationFailed   NotificationType = "OPERATION_FAILED"
)

// Notification represents a notification to be sent. Delivery is
// fire-and-forget: callers never block on it.
type Notification struct {
	Type        NotificationType
	RecipientID string
	Title       string
	Message     string
	Data        map[string]interface{}
	CreatedAt   time.Time
}

// NotificationService handles notification delivery.
type NotificationService struct {
	// In a real deployment this carries a push client (FCM) and the
	// dispatcher dashboard's websocket hub.
}

// NewNotificationService creates a new NotificationService.
func NewNotificationService() *NotificationService {
	return &NotificationService{}
}

// NotifyDeliveryCompleted notifies dispatch that a customer delivery closed.
func (s *NotificationService) NotifyDeliveryCompleted(ctx context.Context, ledger *domain.FuelLedger, allocation *domain.ClientAllocation) error {
	delivered := ""
	if allocation.DeliveredQuantity.Valid {
		delivered = allocation.DeliveredQuantity.Decimal.String()
	}

	notification := Notification{
		Type:        NotificationDeliveryCompleted,
		RecipientID: ledger.DriverID,
		Title:       "Delivery Completed",
		Message:     fmt.Sprintf("Delivered %s to customer %s; %s remaining on truck", delivered, allocation.CustomerID, ledger.TotalRemaining),
		Data: map[string]interface{}{
			"ledger_id":     ledger.ID,
			"allocation_id": allocation.ID,
			"remaining":     ledger.TotalRemaining.String(),
		},
		CreatedAt: time.Now(),
	}
	return s.send(ctx, notification)
}

// NotifyLedgerCompleted notifies dispatch that a truck loading is fully
// accounted for.
func (s *NotificationService) NotifyLedgerCompleted(ctx context.Context, ledger *domain.FuelLedger) error {
	notification := Notification{
		Type:        NotificationLedgerCompleted,
		RecipientID: ledger.DriverID,
		Title:       "Trip Ledger Closed",
		Message:     fmt.Sprintf("Ledger %s completed with %s remaining", ledger.ID, ledger.TotalRemaining),
		Data: map[string]interface{}{
			"ledger_id": ledger.ID,
			"remaining": ledger.TotalRemaining.String(),
		},
		CreatedAt: time.Now(),
	}
	return s.send(ctx, notification)
}

// NotifyOperationFailed surfaces a permanently rejected sync operation so an
// administrator can resolve it manually.
func (s *NotificationService) NotifyOperationFailed(ctx context.Context, op *domain.SyncOperation, reason string) error {
	notification := Notification{
		Type:        NotificationOperationFailed,
		RecipientID: op.DriverID,
		Title:       "Sync Operation Failed",
		Message:     fmt.Sprintf("Operation %s (%s) was rejected: %s", op.ID, op.Kind, reason),
		Data: map[string]interface{}{
			"operation_id": op.ID,
			"kind":         string(op.Kind),
			"reason":       reason,
		},
		CreatedAt: time.Now(),
	}
	return s.send(ctx, notification)
}

// send delivers a notification (mock implementation).
func (s *NotificationService) send(ctx context.Context, notification Notification) error {
	log.Printf("[NOTIFICATION] Type=%s, Recipient=%s, Title=%s, Message=%s",
		notification.Type, notification.RecipientID, notification.Title, notification.Message)

	return nil
}
