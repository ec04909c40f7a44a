// Package notify определяет интерфейс доставки уведомлений пользователям
// и админам. Продовая реализация публикует сообщения в RabbitMQ, откуда
// их забирает транспорт бота и отправляет в Telegram.
package notify

import (
	"context"

	"github.com/streadway/amqp"

	"github.com/perfumeclub/subscription-bot/internal/lib/rabbitmq"
)

// Menu подсказывает транспорту, какую клавиатуру показать вместе с текстом.
type Menu struct {
	Kind                  string `json:"kind"` // например "main_menu"
	HasActiveSubscription bool   `json:"has_active_subscription"`
}

// UserMessage уведомление конкретному пользователю.
type UserMessage struct {
	TelegramID int64  `json:"telegram_id"`
	Text       string `json:"text"`
	Menu       *Menu  `json:"menu,omitempty"`
}

// AdminMessage уведомление всем админам из конфига.
type AdminMessage struct {
	TelegramIDs []int64 `json:"telegram_ids"`
	Text        string  `json:"text"`
}

// Notifier доставляет сообщения адресатам. Каждый переход жизненного цикла,
// который должен дойти до пользователя, идёт через этот интерфейс.
type Notifier interface {
	Send(ctx context.Context, telegramID int64, text string, menu *Menu) error
	SendAdmin(ctx context.Context, telegramIDs []int64, text string) error
}

// RabbitNotifier публикует уведомления в exchange "notifications".
type RabbitNotifier struct {
	ch *amqp.Channel
}

// NewRabbitNotifier создает новый RabbitNotifier поверх открытого канала.
func NewRabbitNotifier(ch *amqp.Channel) *RabbitNotifier {
	return &RabbitNotifier{ch: ch}
}

// Send публикует пользовательское уведомление с ключом "user".
func (n *RabbitNotifier) Send(_ context.Context, telegramID int64, text string, menu *Menu) error {
	return rabbitmq.PublishMessage(n.ch, "notifications", "user", UserMessage{
		TelegramID: telegramID,
		Text:       text,
		Menu:       menu,
	})
}

// SendAdmin публикует сообщение админам с ключом "admin".
func (n *RabbitNotifier) SendAdmin(_ context.Context, telegramIDs []int64, text string) error {
	if len(telegramIDs) == 0 {
		return nil
	}
	return rabbitmq.PublishMessage(n.ch, "notifications", "admin", AdminMessage{
		TelegramIDs: telegramIDs,
		Text:        text,
	})
}
