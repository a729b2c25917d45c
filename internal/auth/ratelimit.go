package auth

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter throttles credential endpoints with Redis counters. It is
// advisory: a Redis outage disables limiting rather than logins.
type RateLimiter struct {
	Redis *redis.Client
}

const (
	loginMaxAttempts = 5
	loginAttemptTTL  = 10 * time.Minute
	loginBanTTL      = time.Hour
	resetCooldown    = 60 * time.Second
)

func loginAttemptKey(ip string) string {
	return "login_attempts:" + ip
}

func loginBanKey(ip string) string {
	return "login_ban:" + ip
}

func resetCooldownKey(email string) string {
	return "reset_cooldown:" + strings.ToLower(email)
}

func (r *RateLimiter) IsLoginLocked(ctx context.Context, ip string) bool {
	exists, _ := r.Redis.Exists(ctx, loginBanKey(ip)).Result()
	return exists == 1
}

// RegisterLoginFailure counts a failed login for ip and bans it once
// the attempt budget is spent.
func (r *RateLimiter) RegisterLoginFailure(ctx context.Context, ip string) error {
	key := loginAttemptKey(ip)

	attempts, err := r.Redis.Incr(ctx, key).Result()
	if err != nil {
		return err
	}
	if attempts == 1 {
		r.Redis.Expire(ctx, key, loginAttemptTTL)
	}
	if attempts >= loginMaxAttempts {
		r.Redis.Set(ctx, loginBanKey(ip), "1", loginBanTTL)
		r.Redis.Expire(ctx, key, loginBanTTL)
	}
	return nil
}

func (r *RateLimiter) ResetLogin(ctx context.Context, ip string) {
	r.Redis.Del(ctx, loginAttemptKey(ip))
}

// ResetRequestCooldown returns the remaining cooldown for a
// forgot-password request, starting one when none is active.
func (r *RateLimiter) ResetRequestCooldown(ctx context.Context, email string) time.Duration {
	key := resetCooldownKey(email)
	ok, err := r.Redis.SetNX(ctx, key, "1", resetCooldown).Result()
	if err != nil || ok {
		return 0
	}
	ttl, err := r.Redis.TTL(ctx, key).Result()
	if err != nil || ttl < 0 {
		return 0
	}
	return ttl
}
