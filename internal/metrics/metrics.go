// Package metrics содержит счётчики Prometheus для фоновых задач
// и платёжного цикла.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SubscriptionsExpired количество подписок, переведённых в expired.
	SubscriptionsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bot_subscriptions_expired_total",
		Help: "Subscriptions transitioned from active to expired by the sweep.",
	})

	// RemindersSent количество отправленных напоминаний об окончании подписки.
	RemindersSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bot_subscription_reminders_sent_total",
		Help: "Expiry reminders sent to subscribers.",
	})

	// PaymentsPolled количество опросов статуса платежей в шлюзе.
	PaymentsPolled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bot_payments_polled_total",
		Help: "Pending payments polled against the gateway.",
	})

	// PaymentsActivated количество подписок, активированных по оплате.
	PaymentsActivated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bot_payments_activated_total",
		Help: "Subscriptions activated after a successful payment.",
	})

	// BonusesNotified количество реферальных бонусов, о которых уведомили.
	BonusesNotified = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bot_referral_bonuses_notified_total",
		Help: "Referral bonuses delivered to referrers.",
	})

	// SweepErrors ошибки фоновых задач по имени задачи.
	SweepErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bot_sweep_errors_total",
		Help: "Per-item errors inside reconciliation sweeps.",
	}, []string{"sweep"})
)
