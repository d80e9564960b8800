package artifact

import (
	"context"
	"time"

	"github.com/YuminosukeSato/pvtrain/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RedisOptions configures RedisStore.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// Prefix is prepended to every key, "pvtrain:" when empty.
	Prefix string
	// TTL expires artifacts; zero keeps them forever.
	TTL time.Duration
}

// RedisStore keeps encoded artifacts as redis strings.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore connects to redis and pings it.
func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrapf(err, "redis ping %s", opts.Addr)
	}
	return NewRedisStoreFromClient(client, opts.Prefix, opts.TTL), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "pvtrain:"
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) Put(ctx context.Context, key Key, a *Artifact) error {
	b, err := Encode(a)
	if err != nil {
		return err
	}
	return errors.Wrapf(s.client.Set(ctx, s.prefix+key.String(), b, s.ttl).Err(), "redis set %s", key)
}

func (s *RedisStore) Get(ctx context.Context, key Key) (*Artifact, error) {
	b, err := s.client.Get(ctx, s.prefix+key.String()).Bytes()
	if err == redis.Nil {
		return nil, errors.NewArtifactMissingError(key.String())
	}
	if err != nil {
		return nil, errors.Wrapf(err, "redis get %s", key)
	}
	return Decode(b)
}

// Close releases the connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
