// Package models содержит доменные структуры бота подписки:
// пользователей, тарифы, подписки, платежи и реферальные записи.
// Структуры используются в бизнес-логике и при работе с хранилищем.
package models

import "time"

// User представляет пользователя бота. Пользователь создаётся при первом
// обращении и никогда не удаляется. ReferrerID устанавливается не более
// одного раза и никогда не переназначается.
type User struct {
	ID           int64      // Внутренний идентификатор
	TelegramID   int64      // Идентификатор аккаунта в Telegram (уникальный)
	Username     *string    // Ник в Telegram
	FirstName    *string    // Имя из профиля Telegram
	LastName     *string    // Фамилия из профиля Telegram
	Surname      *string    // Фамилия из анкеты
	Name         *string    // Имя из анкеты
	Patronymic   *string    // Отчество из анкеты
	Phone        *string    // Телефон из анкеты
	ReferralCode string     // Уникальный реферальный код, неизменяемый
	ReferrerID   *int64     // Кто пригласил (слабая ссылка на User)
	CreatedAt    time.Time
}

// FullName собирает ФИО из анкеты для отчётов.
func (u *User) FullName() string {
	parts := make([]string, 0, 3)
	for _, p := range []*string{u.Surname, u.Name, u.Patronymic} {
		if p != nil && *p != "" {
			parts = append(parts, *p)
		}
	}
	if len(parts) == 0 {
		return "—"
	}
	res := parts[0]
	for _, p := range parts[1:] {
		res += " " + p
	}
	return res
}

// ProfileUpdate используется для приёма данных анкеты перед сохранением.
// Поля валидируются вручную через validator.
type ProfileUpdate struct {
	Surname    string `json:"surname" validate:"required,min=2"`
	Name       string `json:"name" validate:"required,min=2"`
	Patronymic string `json:"patronymic" validate:"omitempty,min=2"`
	Phone      string `json:"phone" validate:"required,e164"`
}
