package models

import "time"

// Tariff представляет тариф подписки. Тарифы заводятся один раз при старте
// и далее практически не меняются.
type Tariff struct {
	ID             int64
	Code           string  // monthly, half_year, yearly
	Name           string  // Название для отображения
	DurationMonths int     // Длительность в месяцах
	Price          float64 // Цена в рублях
	IsActive       bool
	CreatedAt      time.Time
}
