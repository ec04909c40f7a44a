package rabbitmq

// QueueConfig описывает очередь и ключ маршрутизации.
type QueueConfig struct {
	QueueName  string
	RoutingKey string
}

// GetNotificationQueues возвращает очереди, которые читает транспорт бота:
// пользовательские уведомления и сообщения админам.
func GetNotificationQueues() []QueueConfig {
	return []QueueConfig{
		{QueueName: "notification.user", RoutingKey: "user"},
		{QueueName: "notification.admin", RoutingKey: "admin"},
	}
}
