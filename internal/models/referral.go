package models

import "time"

// Referral запись о приглашении: ребро referrer -> referred.
// Пользователь может быть приглашён не более одного раза за всё время,
// поэтому ReferredID уникален среди всех записей.
type Referral struct {
	ID                  int64
	ReferrerID          int64
	ReferredID          int64
	HasPaidSubscription bool // Переключается false -> true ровно один раз
	CreatedAt           time.Time
}

// ReferralBonusStatus статус реферального бонуса.
type ReferralBonusStatus string

// Статусы бонуса: pending ожидает уведомления, notified пользователь
// и админы уведомлены.
const (
	BonusPending  ReferralBonusStatus = "pending"
	BonusNotified ReferralBonusStatus = "notified"
)

// ReferralBonus бонус реферера за приглашённых. У пользователя может быть
// не более одного бонуса, прошедшего стадию pending.
type ReferralBonus struct {
	ID                   int64
	UserID               int64
	Status               ReferralBonusStatus
	ActiveReferralsCount int // Количество активных рефералов на момент выдачи
	CreatedAt            time.Time
}

// ReferralStats агрегированная статистика рефералов пользователя для показа в боте.
type ReferralStats struct {
	TotalReferrals      int    `json:"total_referrals"`
	PaidReferrals       int    `json:"paid_referrals"`
	ActivePaidReferrals int    `json:"active_paid_referrals"`
	BonusAvailable      bool   `json:"bonus_available"`
	BonusIssued         bool   `json:"bonus_issued"`
	ReferralCode        string `json:"referral_code"`
	RemainingForBonus   int    `json:"remaining_for_bonus"`
}
