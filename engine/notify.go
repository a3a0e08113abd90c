/*
notify.go - Informational notifications emitted by the session lifecycle

PURPOSE:
  Cap-reached and midnight-split events produce an optional payload for
  the presentation layer to deliver. Delivery failure must never roll
  back the underlying state change, so notifications are dispatched after
  persistence and errors are only logged.
*/
package engine

import (
	"context"
	"log"
	"time"

	"github.com/shopspring/decimal"
)

type NotificationType string

const (
	NotificationCapReached    NotificationType = "cap_reached"
	NotificationMidnightSplit NotificationType = "midnight_split"
)

// Notification is the payload handed to the presentation layer.
type Notification struct {
	Type       NotificationType
	MemberID   MemberID
	ChannelID  ChannelID
	At         time.Time
	DailyHours decimal.Decimal
	Message    string
}

// Notifier delivers notifications to the presentation layer.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier writes notifications to the process log. The default when
// no presentation layer is attached.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, n Notification) error {
	log.Printf("[Notify] %s member=%s channel=%s: %s", n.Type, n.MemberID, n.ChannelID, n.Message)
	return nil
}

// NopNotifier discards notifications (tests).
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, Notification) error { return nil }
