// Package config предоставляет структуры и функцию для парсинга и загрузки конфига.
// Конфиг строится один раз при старте и передаётся компонентам явно,
// глобального состояния нет.
package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config общая структура для хранения настроек.
type Config struct {
	Env                     string `yaml:"env" env:"ENV" env-default:"local"`
	StorageConnectionString string `yaml:"storage_connection_string" env:"STORAGE_CONNECTION_STRING"`
	RedisConnection         `yaml:"redis_connection"`
	RabbitMQ                `yaml:"rabbitmq"`
	HTTPServer              `yaml:"http_server"`
	YooKassa                `yaml:"yookassa"`
	Bot                     `yaml:"bot"`
	Scheduler               `yaml:"scheduler"`
}

// HTTPServer структура для настройки сервера.
type HTTPServer struct {
	AddressHTTP string        `yaml:"addresshttp" env-default:":8080"`
	TimeoutHTTP time.Duration `yaml:"timeouthttp" env-default:"5s"`
	IdleTimeout time.Duration `yaml:"idle_timeout" env-default:"60s"`
}

// RedisConnection структура для настройки подключения к redis.
type RedisConnection struct {
	AddressRedis string        `yaml:"addressredis"`
	Password     string        `yaml:"password"`
	User         string        `yaml:"user"`
	DB           int           `yaml:"db"`
	MaxRetries   int           `yaml:"max_retries" env-default:"3"`
	DialTimeout  time.Duration `yaml:"dial_timeout" env-default:"5s"`
	TimeoutRedis time.Duration `yaml:"timeoutredis" env-default:"3s"`
}

// RabbitMQ структура для настройки подключения к RabbitMQ.
type RabbitMQ struct {
	RabbitMQURL        string        `yaml:"rabbitmq_url"`
	RabbitMQMaxRetries int           `yaml:"rabbitmq_max_retries" env-default:"10"`
	RabbitMQRetryDelay time.Duration `yaml:"rabbitmq_retry_delay" env-default:"3s"`
}

// YooKassa учётные данные магазина и таймаут запросов к шлюзу.
type YooKassa struct {
	ShopID        string        `yaml:"shop_id" env:"YOOKASSA_SHOP_ID"`
	SecretKey     string        `yaml:"secret_key" env:"YOOKASSA_SECRET_KEY"`
	WebhookSecret string        `yaml:"webhook_secret" env:"YOOKASSA_WEBHOOK_SECRET"`
	Timeout       time.Duration `yaml:"timeout" env-default:"10s"`
}

// Bot настройки, которые показываются пользователям или нужны для ссылок.
type Bot struct {
	BotUsername      string `yaml:"bot_username"`
	AdminTelegramIDs string `yaml:"admin_telegram_ids"` // через запятую: "95714127,6172571059"
	ManagerWhatsApp  string `yaml:"manager_whatsapp" env-default:"+7999-399-57-95"`
	CatalogLink1     string `yaml:"catalog_link_1"`
	CatalogName1     string `yaml:"catalog_name_1" env-default:"Масляные духи"`
	CatalogLink2     string `yaml:"catalog_link_2"`
	CatalogName2     string `yaml:"catalog_name_2" env-default:"Дубайские оригиналы"`
}

// Scheduler расписания фоновых задач в формате robfig/cron.
type Scheduler struct {
	ReportCron       string `yaml:"report_cron" env-default:"0 9 * * *"`
	SubscriptionCron string `yaml:"subscription_cron" env-default:"0 10 * * *"`
	BonusCron        string `yaml:"bonus_cron" env-default:"0 11 * * *"`
	PaymentCron      string `yaml:"payment_cron" env-default:"*/5 * * * *"`
}

// MustLoad загружает конфиг по пути из CONFIG_PATH. При ошибке процесс завершается.
func MustLoad() *Config {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		log.Fatal("CONFIG_PATH is not set")
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		log.Fatalf("file: %s - does not exist", configPath)
	}
	var cfg Config

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		log.Fatalf("cannot read config: %s", err)
	}
	return &cfg
}

// AdminIDs разбирает список идентификаторов админов из конфига.
// Некорректные элементы пропускаются.
func (b Bot) AdminIDs() []int64 {
	var ids []int64
	for _, part := range strings.Split(b.AdminTelegramIDs, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}
