// Package redisstore mirrors the set of online users into Redis so that other
// processes can read it.
package redisstore

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/cory-johannsen/duel/internal/config"
)

// Presence maintains a Redis set of online user ids.
type Presence struct {
	client *redis.Client
	key    string
}

// NewClient creates a Redis client from cfg and verifies it with PING.
//
// Precondition: cfg.Addr must be non-empty.
// Postcondition: Returns a connected client or a non-nil error.
func NewClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis at %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// NewPresence returns a Presence writing to the set named key.
//
// Precondition: client must be non-nil; key must be non-empty.
func NewPresence(client *redis.Client, key string) *Presence {
	return &Presence{client: client, key: key}
}

// Join adds userID to the online set.
func (p *Presence) Join(ctx context.Context, userID string) error {
	if err := p.client.SAdd(ctx, p.key, userID).Err(); err != nil {
		return fmt.Errorf("adding %s to %s: %w", userID, p.key, err)
	}
	return nil
}

// Leave removes userID from the online set.
func (p *Presence) Leave(ctx context.Context, userID string) error {
	if err := p.client.SRem(ctx, p.key, userID).Err(); err != nil {
		return fmt.Errorf("removing %s from %s: %w", userID, p.key, err)
	}
	return nil
}

// Count returns the number of users in the online set.
func (p *Presence) Count(ctx context.Context) (int64, error) {
	n, err := p.client.SCard(ctx, p.key).Result()
	if err != nil {
		return 0, fmt.Errorf("counting %s: %w", p.key, err)
	}
	return n, nil
}

// IsOnline reports whether userID is in the online set.
func (p *Presence) IsOnline(ctx context.Context, userID string) (bool, error) {
	ok, err := p.client.SIsMember(ctx, p.key, userID).Result()
	if err != nil {
		return false, fmt.Errorf("checking %s in %s: %w", userID, p.key, err)
	}
	return ok, nil
}

// Reset clears the online set. It is called at startup so that entries left
// by a crashed process do not linger.
func (p *Presence) Reset(ctx context.Context) error {
	if err := p.client.Del(ctx, p.key).Err(); err != nil {
		return fmt.Errorf("clearing %s: %w", p.key, err)
	}
	return nil
}
