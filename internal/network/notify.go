package network

import (
	"context"

	"go.uber.org/zap"

	"tiernet.org/internal/ids"
)

// Notification kinds.
const (
	KindWelcome               = "account.welcome"
	KindPlacementAssigned     = "placement.assigned"
	KindPaymentInitiated      = "payment.initiated"
	KindPaymentAwaiting       = "payment.awaiting_approval"
	KindPaymentApproved       = "payment.approved"
	KindPaymentReceived       = "payment.received"
	KindPaymentExpired        = "payment.expired"
	KindTierAdvanced          = "tier.advanced"
	KindAccountReassigned     = "account.reassigned"
	KindSubscriptionActivated = "subscription.activated"
	KindSubscriptionInitiated = "subscription.initiated"
	KindSubscriptionApproved  = "subscription.approved"
	KindSubscriptionLapsed    = "subscription.lapsed"
)

// Notifier delivers notifications. Delivery is best effort.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// StoreNotifier only persists notifications.
type StoreNotifier struct {
	Store NotificationStore
}

func (n StoreNotifier) Notify(ctx context.Context, msg Notification) error {
	return n.Store.Create(ctx, msg)
}

func (s *Service) notify(ctx context.Context, accountID, kind, message string) {
	now := s.now()
	n := Notification{
		ID:        ids.NewAt(now),
		AccountID: accountID,
		Kind:      kind,
		Message:   message,
		CreatedAt: now,
	}
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.logger.Warn("notification dropped",
			zap.String("account_id", accountID),
			zap.String("kind", kind),
			zap.Error(err))
	}
}
