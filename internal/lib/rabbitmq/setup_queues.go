package rabbitmq

// Обменники, которые использует шлюз.
const (
	ExchangeNotifications = "notifications"
	ExchangeSecurity      = "security"
)

// Ключи маршрутизации.
const (
	RoutingTrialExpired  = "trial_expired"
	RoutingTrialEnding   = "trial_ending"
	RoutingSecurityEvent = "event"
)

type QueueConfig struct {
	QueueName  string
	RoutingKey string
}

// GetNotificationQueues очереди уведомлений пользователей о пробном периоде.
func GetNotificationQueues() []QueueConfig {
	return []QueueConfig{
		{QueueName: "notifications.trial_expired", RoutingKey: RoutingTrialExpired},
		{QueueName: "notifications.trial_ending", RoutingKey: RoutingTrialEnding},
	}
}

// GetSecurityQueues очередь журнала безопасности для внешних инструментов администратора.
func GetSecurityQueues() []QueueConfig {
	return []QueueConfig{
		{QueueName: "security.events", RoutingKey: RoutingSecurityEvent},
	}
}
