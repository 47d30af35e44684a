package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/certledger-backend/pkg/config"
	"github.com/angelmondragon/certledger-backend/pkg/logger"
)

const keyNamespace = "certledger"

var errNotInitialized = errors.New("redis client not initialized")

// commands is the subset of go-redis used here; tests substitute an
// in-memory version.
type commands interface {
	Ping(context.Context) *redis.StatusCmd
	SetNX(context.Context, string, any, time.Duration) *redis.BoolCmd
	Eval(context.Context, string, []string, ...any) *redis.Cmd
}

// Client backs the cron worker lease and the verification rate limiter.
// Certificate data never lives in redis.
type Client struct {
	cmds commands
	conn *redis.Client
}

// New connects using CERTLEDGER_REDIS_URL, or the discrete address settings
// when no URL is given, and pings once.
func New(ctx context.Context, cfg config.RedisConfig, logg *logger.Logger) (*Client, error) {
	opts, err := optionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	conn := redis.NewClient(opts)
	if err := conn.Ping(ctx).Err(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", opts.Addr, err)
	}
	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"addr":      opts.Addr,
			"db":        opts.DB,
			"pool_size": opts.PoolSize,
		}), "redis connection established")
	}
	return &Client{cmds: conn, conn: conn}, nil
}

func optionsFromConfig(cfg config.RedisConfig) (*redis.Options, error) {
	var opts *redis.Options
	switch {
	case strings.TrimSpace(cfg.URL) != "":
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis url: %w", err)
		}
		opts = parsed
	case strings.TrimSpace(cfg.Address) != "":
		opts = &redis.Options{Addr: cfg.Address, Password: cfg.Password, DB: cfg.DB}
	default:
		return nil, errors.New("redis url or address is required")
	}

	// explicit settings fill whatever the URL left at zero
	setIfZero(&opts.DB, cfg.DB)
	setIfZero(&opts.PoolSize, cfg.PoolSize)
	setIfZero(&opts.MinIdleConns, cfg.MinIdleConns)
	setIfZero(&opts.DialTimeout, cfg.DialTimeout)
	setIfZero(&opts.ReadTimeout, cfg.ReadTimeout)
	setIfZero(&opts.WriteTimeout, cfg.WriteTimeout)
	return opts, nil
}

func setIfZero[T int | time.Duration](dst *T, v T) {
	if *dst == 0 {
		*dst = v
	}
}

// LockKey namespaces a worker lease name.
func (c *Client) LockKey(name string) string {
	return key("lock", name)
}

func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.cmds == nil {
		return errNotInitialized
	}
	return c.cmds.Ping(ctx).Err()
}

func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func key(kind string, parts ...string) string {
	out := []string{keyNamespace, kind}
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, ":")
}
