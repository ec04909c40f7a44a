package models

import "time"

// PaymentStatus статус платежа.
type PaymentStatus string

// Статусы платежа. succeeded и canceled терминальные: из них нет переходов,
// повторная установка того же статуса безопасна.
const (
	PaymentPending   PaymentStatus = "pending"
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentCanceled  PaymentStatus = "canceled"
)

// IsTerminal сообщает, достиг ли статус конечного состояния.
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentSucceeded || s == PaymentCanceled
}

// Payment представляет платёж через платёжный шлюз. Подписке соответствует
// не более одного платежа. ExternalID пустой до успешного ответа шлюза.
type Payment struct {
	ID             int64
	UserID         int64
	SubscriptionID *int64
	ExternalID     *string // Идентификатор платежа в ЮKassa
	Amount         float64
	Currency       string
	Status         PaymentStatus
	Metadata       *string // JSON с user_id и subscription_id
	CreatedAt      time.Time
}
