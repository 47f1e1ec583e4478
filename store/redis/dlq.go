package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/syncwell/pulse"
	"github.com/syncwell/pulse/dlq"
	"github.com/syncwell/pulse/id"
)

// PushDLQ adds a failed job entry to the dead letter queue.
func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	eID := entry.ID.String()

	if err := s.setEntity(ctx, dlqKey(eID), entry); err != nil {
		return fmt.Errorf("pulse/redis: push dlq: %w", err)
	}
	if err := s.client.SAdd(ctx, dlqIDsKey, eID).Err(); err != nil {
		return fmt.Errorf("pulse/redis: push dlq index: %w", err)
	}
	return nil
}

// ListDLQ returns DLQ entries matching the given options, oldest failure
// first.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	ids, err := s.client.SMembers(ctx, dlqIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("pulse/redis: list dlq: %w", err)
	}

	entries := make([]*dlq.Entry, 0, len(ids))
	for _, eID := range ids {
		var e dlq.Entry
		if getErr := s.getEntity(ctx, dlqKey(eID), &e); getErr != nil {
			continue
		}
		if opts.Queue != "" && e.Queue != opts.Queue {
			continue
		}
		entries = append(entries, &e)
	}

	sort.Slice(entries, func(i, k int) bool {
		return entries[i].FailedAt.Before(entries[k].FailedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(entries) {
			return nil, nil
		}
		entries = entries[opts.Offset:]
	}
	if opts.Limit > 0 && len(entries) > opts.Limit {
		entries = entries[:opts.Limit]
	}
	return entries, nil
}

// GetDLQ retrieves a DLQ entry by ID.
func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	var e dlq.Entry
	if err := s.getEntity(ctx, dlqKey(entryID.String()), &e); err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, pulse.ErrDLQNotFound
		}
		return nil, fmt.Errorf("pulse/redis: get dlq: %w", err)
	}
	return &e, nil
}

// ReplayDLQ marks a DLQ entry as replayed.
func (s *Store) ReplayDLQ(ctx context.Context, entryID id.DLQID) error {
	key := dlqKey(entryID.String())

	var e dlq.Entry
	if err := s.getEntity(ctx, key, &e); err != nil {
		if errors.Is(err, goredis.Nil) {
			return pulse.ErrDLQNotFound
		}
		return fmt.Errorf("pulse/redis: replay dlq get: %w", err)
	}

	now := time.Now().UTC()
	e.ReplayedAt = &now
	if err := s.setEntity(ctx, key, &e); err != nil {
		return fmt.Errorf("pulse/redis: replay dlq: %w", err)
	}
	return nil
}

// PurgeDLQ removes DLQ entries with FailedAt before the given time.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	ids, err := s.client.SMembers(ctx, dlqIDsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("pulse/redis: purge dlq smembers: %w", err)
	}

	var purged int64
	for _, eID := range ids {
		var e dlq.Entry
		if getErr := s.getEntity(ctx, dlqKey(eID), &e); getErr != nil {
			continue
		}
		if e.FailedAt.Before(before) {
			pipe := s.client.TxPipeline()
			pipe.Del(ctx, dlqKey(eID))
			pipe.SRem(ctx, dlqIDsKey, eID)
			if _, pErr := pipe.Exec(ctx); pErr != nil {
				return purged, fmt.Errorf("pulse/redis: purge dlq del: %w", pErr)
			}
			purged++
		}
	}
	return purged, nil
}

// CountDLQ returns the total number of entries in the dead letter queue.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	count, err := s.client.SCard(ctx, dlqIDsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("pulse/redis: count dlq: %w", err)
	}
	return count, nil
}
