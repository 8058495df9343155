package events

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/tbourn/spark-backend/internal/config"
)

// FromConfig builds the publisher selected by cfg.Backend. "none" (or empty)
// yields Nop.
func FromConfig(cfg config.EventsConfig) (Publisher, error) {
	switch cfg.Backend {
	case "", "none":
		return Nop{}, nil
	case "redis":
		return NewRedisPublisher(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, cfg.Channel), nil
	case "kafka":
		return NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
	default:
		return nil, fmt.Errorf("unknown events backend %q", cfg.Backend)
	}
}
