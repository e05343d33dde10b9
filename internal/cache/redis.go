package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"slotbook/internal/availability"
	"slotbook/internal/domain"
)

const (
	slotKeyPrefix = "availability:slots:"

	// UpdatesChannel carries Event payloads after every completed refresh.
	UpdatesChannel = "availability.updated"
)

// RedisSlotCache stores one JSON document per group and date.
type RedisSlotCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisSlotCache(client *redis.Client, ttl time.Duration) *RedisSlotCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisSlotCache{client: client, ttl: ttl}
}

func slotKey(groupID string, date time.Time) string {
	return fmt.Sprintf("%s%s:%s", slotKeyPrefix, groupID, domain.FormatDate(date))
}

func (c *RedisSlotCache) GetSlots(ctx context.Context, groupID string, date time.Time) (availability.CachedDay, bool, error) {
	raw, err := c.client.Get(ctx, slotKey(groupID, date)).Bytes()
	if errors.Is(err, redis.Nil) {
		return availability.CachedDay{}, false, nil
	}
	if err != nil {
		return availability.CachedDay{}, false, err
	}

	var day availability.CachedDay
	if err := json.Unmarshal(raw, &day); err != nil {
		return availability.CachedDay{}, false, fmt.Errorf("decode cached slots: %w", err)
	}
	return day, true, nil
}

func (c *RedisSlotCache) PutSlots(ctx context.Context, day availability.CachedDay) error {
	data, err := json.Marshal(day)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, slotKey(day.GroupID, day.Date), data, c.ttl).Err()
}

// Event announces that a group's cached slots were replaced.
type Event struct {
	GroupID    string    `json:"group_id"`
	Dates      []string  `json:"dates"`
	ComputedAt time.Time `json:"computed_at"`
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

type RedisPublisher struct {
	client  *redis.Client
	channel string
}

func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	if channel == "" {
		channel = UpdatesChannel
	}
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, p.channel, data).Err()
}

// Subscribe delivers events to fn until ctx is done. Undecodable messages are skipped.
func (p *RedisPublisher) Subscribe(ctx context.Context, fn func(Event)) error {
	sub := p.client.Subscribe(ctx, p.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", p.channel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				continue
			}
			fn(ev)
		}
	}
}
