package infra

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "scopes"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanMembershipInvalidate — user id через запятую или "*" для полного сброса кэша членства.
	RedisChanMembershipInvalidate = RedisNamespace + ":membership:invalidate"
)
