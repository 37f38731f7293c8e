package resolver

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// InvalidateAllUsers — payload полного сброса кэша членства.
const InvalidateAllUsers = "*"

// Invalidator — кэш, который умеет сбрасывать членство.
type Invalidator interface {
	Invalidate(userID string)
	InvalidateAll()
}

// ListenInvalidations — живучая подписка на канал инвалидаций членства.
// Payload: "*" или user id через запятую. При каждом (пере)подключении кэш
// сбрасывается целиком: сообщения, пришедшие без подписки, потеряны.
func ListenInvalidations(ctx context.Context, rdb *redis.Client, channel string, target Invalidator, logger *zap.Logger) {
	logger = logger.Named("invalidation")

	for {
		pubsub := rdb.Subscribe(ctx, channel)

		if _, err := pubsub.Receive(ctx); err != nil {
			pubsub.Close()
			if ctx.Err() != nil {
				return
			}
			logger.Error("failed to subscribe", zap.String("chan", channel), zap.Error(err))
			if !sleepCtx(ctx, 5*time.Second) {
				return
			}
			continue
		}

		target.InvalidateAll()
		logger.Info("subscribed to membership invalidations", zap.String("chan", channel))

		ch := pubsub.Channel()

	loop:
		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break loop // Канал закрыт, идем на переподключение
				}
				if err := ApplyInvalidation(target, msg.Payload); err != nil {
					logger.Error("invalid signal format", zap.String("payload", msg.Payload), zap.Error(err))
				}
			}
		}

		pubsub.Close()
		if !sleepCtx(ctx, time.Second) {
			return
		}
	}
}

// ApplyInvalidation разбирает payload сигнала и сбрасывает кэш.
func ApplyInvalidation(target Invalidator, payload string) error {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return errors.New("empty invalidation payload")
	}
	if payload == InvalidateAllUsers {
		target.InvalidateAll()
		return nil
	}

	var applied int
	for _, id := range strings.Split(payload, ",") {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if id == InvalidateAllUsers {
			target.InvalidateAll()
			return nil
		}
		target.Invalidate(id)
		applied++
	}
	if applied == 0 {
		return errors.New("no user ids in invalidation payload")
	}
	return nil
}

// PublishInvalidation рассылает сигнал всем экземплярам сервиса.
func PublishInvalidation(ctx context.Context, rdb redis.Cmdable, channel string, userIDs ...string) error {
	payload := InvalidateAllUsers
	if len(userIDs) > 0 {
		payload = strings.Join(userIDs, ",")
	}
	return rdb.Publish(ctx, channel, payload).Err()
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
