package models

import "time"

// SubscriptionStatus статус подписки.
type SubscriptionStatus string

// Возможные статусы подписки. Подписка создаётся в pending, переходит в
// active только при явной активации после оплаты и в expired только
// фоновой задачей по истечении срока.
const (
	SubscriptionPending SubscriptionStatus = "pending"
	SubscriptionActive  SubscriptionStatus = "active"
	SubscriptionExpired SubscriptionStatus = "expired"
)

// Subscription представляет подписку пользователя на тариф.
// StartDate и EndDate равны nil до активации.
type Subscription struct {
	ID           int64
	UserID       int64
	TariffID     int64
	Status       SubscriptionStatus
	StartDate    *time.Time
	EndDate      *time.Time
	ReminderSent bool
	CreatedAt    time.Time
}

// ActiveSubscriberInfo строка ежедневного отчёта: подписка вместе с данными
// пользователя и тарифа.
type ActiveSubscriberInfo struct {
	TelegramID int64
	Username   *string
	FullName   string
	Phone      string
	TariffName string
	EndDate    time.Time
}
