package paymentprovider

import "time"

// Статусы платежа в терминах ЮKassa. Все прочие значения трактуются
// как "ещё не завершён".
const (
	StatusSucceeded = "succeeded"
	StatusCanceled  = "canceled"
)

// Amount представляет денежную сумму.
type Amount struct {
	Value    string `json:"value"`    // сумма, например "249.00"
	Currency string `json:"currency"` // валюта, например "RUB"
}

// Confirmation описывает способ подтверждения платежа пользователем.
type Confirmation struct {
	Type            string `json:"type"`                       // "redirect"
	ReturnURL       string `json:"return_url,omitempty"`       // куда вернуть после оплаты
	ConfirmationURL string `json:"confirmation_url,omitempty"` // куда отправить пользователя
}

// CreatePaymentRequest представляет запрос на создание платежа.
type CreatePaymentRequest struct {
	Amount       Amount            `json:"amount"`
	Confirmation Confirmation      `json:"confirmation"`
	Description  string            `json:"description"`
	Metadata     map[string]string `json:"metadata,omitempty"` // user_id, subscription_id
	Capture      bool              `json:"capture"`
}

// PaymentResponse представляет платёж в ответах ЮKassa: и на создание,
// и на запрос статуса.
type PaymentResponse struct {
	ID           string       `json:"id"`     // ID платежа в ЮKassa
	Status       string       `json:"status"` // pending, succeeded, canceled, ...
	Amount       Amount       `json:"amount"`
	Confirmation Confirmation `json:"confirmation"`
	CreatedAt    time.Time    `json:"created_at"`
}
