package config

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	redis "github.com/redis/go-redis/v9"
)

// Source delivers a parsed Config. It is selected once at startup: either a
// static file or a watched remote document that can push updates.
type Source interface {
	Load(ctx context.Context) (Config, error)
	// Watch calls onChange with every new configuration until ctx is done.
	// Static sources return nil immediately.
	Watch(ctx context.Context, onChange func(Config)) error
	String() string
}

// NewSource picks the source variant for ref: a redis:// or rediss:// URL
// selects RedisSource, anything else is treated as a file path.
func NewSource(ref string) (Source, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, fmt.Errorf("empty config source")
	}
	if strings.HasPrefix(ref, "redis://") || strings.HasPrefix(ref, "rediss://") {
		return NewRedisSource(ref)
	}
	return FileSource{Path: ref}, nil
}

// FileSource reads a configuration file once.
type FileSource struct{ Path string }

func (s FileSource) Load(context.Context) (Config, error) { return Load(s.Path) }

func (s FileSource) Watch(context.Context, func(Config)) error { return nil }

func (s FileSource) String() string { return "file:" + s.Path }

// RedisSource reads the configuration document stored under Key and reloads
// it whenever a message is published on Channel.
type RedisSource struct {
	client  *redis.Client
	Key     string
	Channel string
	// Format of the stored document: yaml (default), json or toml.
	Format string
}

const (
	defaultRedisKey     = "pipelined:config"
	defaultRedisChannel = "pipelined:config:changed"
)

// NewRedisSource parses a URL such as
// redis://:pw@host:6379/0?key=pipelined:config&channel=pipelined:config:changed&format=yaml
// The key/channel/format query parameters are consumed here; the rest is
// handed to redis.ParseURL.
func NewRedisSource(rawURL string) (*RedisSource, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	q := u.Query()
	src := &RedisSource{
		Key:     q.Get("key"),
		Channel: q.Get("channel"),
		Format:  q.Get("format"),
	}
	q.Del("key")
	q.Del("channel")
	q.Del("format")
	u.RawQuery = q.Encode()
	if src.Key == "" {
		src.Key = defaultRedisKey
	}
	if src.Channel == "" {
		src.Channel = defaultRedisChannel
	}
	if src.Format == "" {
		src.Format = "yaml"
	}
	opts, err := redis.ParseURL(u.String())
	if err != nil {
		return nil, fmt.Errorf("redis options: %w", err)
	}
	src.client = redis.NewClient(opts)
	return src, nil
}

func (s *RedisSource) Load(ctx context.Context) (Config, error) {
	b, err := s.client.Get(ctx, s.Key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Config{}, fmt.Errorf("config key %q not set", s.Key)
	}
	if err != nil {
		return Config{}, fmt.Errorf("redis get %s: %w", s.Key, err)
	}
	return Parse(b, s.Format)
}

func (s *RedisSource) Watch(ctx context.Context, onChange func(Config)) error {
	sub := s.client.Subscribe(ctx, s.Channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe %s: %w", s.Channel, err)
	}
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-ch:
			if !ok {
				return nil
			}
			cfg, err := s.Load(ctx)
			if err != nil {
				// keep the previous configuration; the next publish retries
				continue
			}
			onChange(cfg)
		}
	}
}

func (s *RedisSource) Close() error { return s.client.Close() }

func (s *RedisSource) String() string {
	return "redis:" + s.client.Options().Addr + "/" + s.Key
}
