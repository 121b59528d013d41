package state

import (
	"context"
	"encoding/json"
	"fmt"

	"shopino/crawler/internal/domain"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

type redisLedger struct {
	redisClient *redis.Client
	key         string
}

// NewRedisLedger stores skip records in one Redis hash keyed by URL.
func NewRedisLedger(redisClient *redis.Client, keyPrefix string) Ledger {
	return &redisLedger{
		redisClient: redisClient,
		key:         keyPrefix + "skips",
	}
}

func (l *redisLedger) Record(ctx context.Context, rec domain.SkipRecord) error {
	if rec.Kind != domain.SkipPermanent {
		permanent, err := l.IsPermanent(ctx, rec.URL)
		if err != nil {
			return err
		}
		if permanent {
			return nil
		}
	}

	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to serialize skip record: %w", err)
	}

	if err := l.redisClient.HSet(ctx, l.key, rec.URL, value).Err(); err != nil {
		return fmt.Errorf("failed to record skip of %s: %w", rec.URL, err)
	}
	return nil
}

func (l *redisLedger) Clear(ctx context.Context, url string) error {
	if err := l.redisClient.HDel(ctx, l.key, url).Err(); err != nil {
		return fmt.Errorf("failed to clear skip of %s: %w", url, err)
	}
	return nil
}

func (l *redisLedger) IsPermanent(ctx context.Context, url string) (bool, error) {
	val, err := l.redisClient.HGet(ctx, l.key, url).Result()
	if err != nil {
		if err == redis.Nil {
			return false, nil
		}
		return false, fmt.Errorf("failed to look up skip of %s: %w", url, err)
	}

	var rec domain.SkipRecord
	if err := json.Unmarshal([]byte(val), &rec); err != nil {
		return false, fmt.Errorf("failed to parse skip record of %s: %w", url, err)
	}
	return rec.Kind == domain.SkipPermanent, nil
}

func (l *redisLedger) Transient(ctx context.Context) ([]domain.SkipRecord, error) {
	all, err := l.redisClient.HGetAll(ctx, l.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read skip ledger: %w", err)
	}

	var out []domain.SkipRecord
	for url, val := range all {
		var rec domain.SkipRecord
		if err := json.Unmarshal([]byte(val), &rec); err != nil {
			log.Warnf("⚠️ Ignoring unreadable skip record for %s: %v", url, err)
			continue
		}
		if rec.Kind == domain.SkipTransient {
			out = append(out, rec)
		}
	}
	sortRecords(out)
	return out, nil
}

func (l *redisLedger) Close() error {
	if l.redisClient != nil {
		return l.redisClient.Close()
	}
	return nil
}
