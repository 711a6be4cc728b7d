package db

import (
	"context"
	"strings"
	"time"

	"github.com/mezonai/mmnchain/logx"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const (
	redisOpTimeout = 5 * time.Second
	redisScanCount = 512
)

// RedisOptions selects the server and the key namespace a node writes under.
// Nodes sharing one Redis database need distinct namespaces.
type RedisOptions struct {
	Addr      string
	DB        int
	Namespace string
}

// RedisProvider stores chain state in Redis. Every key is written as
// namespace + key so prefix scans stay inside one node's keyspace.
type RedisProvider struct {
	client    *redis.Client
	namespace string
}

func NewRedisProvider(opts RedisOptions) (DatabaseProvider, error) {
	if opts.Addr == "" {
		return nil, errors.New("redis address cannot be empty")
	}
	client := redis.NewClient(&redis.Options{Addr: opts.Addr, DB: opts.DB})

	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrapf(err, "failed to reach redis at %s", opts.Addr)
	}
	logx.Info("REDIS", "Connected to ", opts.Addr, " db=", opts.DB, " namespace=", opts.Namespace)

	return &RedisProvider{client: client, namespace: opts.Namespace}, nil
}

func (p *RedisProvider) key(k []byte) string {
	return p.namespace + string(k)
}

func opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), redisOpTimeout)
}

func (p *RedisProvider) Get(key []byte) ([]byte, error) {
	ctx, cancel := opContext()
	defer cancel()

	value, err := p.client.Get(ctx, p.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return value, err
}

func (p *RedisProvider) Put(key, value []byte) error {
	ctx, cancel := opContext()
	defer cancel()
	return p.client.Set(ctx, p.key(key), value, 0).Err()
}

func (p *RedisProvider) Delete(key []byte) error {
	ctx, cancel := opContext()
	defer cancel()
	return p.client.Del(ctx, p.key(key)).Err()
}

// IteratePrefix walks matching keys with SCAN. Keys are handed back without
// the namespace. Order is unspecified, unlike LevelDB.
func (p *RedisProvider) IteratePrefix(prefix []byte, fn func(key, value []byte) bool) error {
	match := globEscaper.Replace(p.key(prefix)) + "*"
	ctx := context.Background()

	iter := p.client.Scan(ctx, 0, match, redisScanCount).Iterator()
	for iter.Next(ctx) {
		full := iter.Val()
		value, err := p.client.Get(ctx, full).Bytes()
		if errors.Is(err, redis.Nil) {
			// deleted between SCAN and GET
			continue
		}
		if err != nil {
			return errors.Wrapf(err, "failed to read %s", full)
		}
		if !fn([]byte(strings.TrimPrefix(full, p.namespace)), value) {
			return nil
		}
	}
	return iter.Err()
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func (p *RedisProvider) Close() error {
	return p.client.Close()
}

// Batch queues writes into a MULTI/EXEC transaction.
func (p *RedisProvider) Batch() DatabaseBatch {
	return &redisBatch{p: p, pipe: p.client.TxPipeline()}
}

type redisBatch struct {
	p    *RedisProvider
	pipe redis.Pipeliner
}

func (b *redisBatch) Put(key, value []byte) {
	b.pipe.Set(context.Background(), b.p.key(key), value, 0)
}

func (b *redisBatch) Delete(key []byte) {
	b.pipe.Del(context.Background(), b.p.key(key))
}

func (b *redisBatch) Write() error {
	if b.pipe.Len() == 0 {
		return nil
	}
	ctx, cancel := opContext()
	defer cancel()
	_, err := b.pipe.Exec(ctx)
	return err
}

func (b *redisBatch) Reset() {
	b.pipe.Discard()
}

func (b *redisBatch) Close() error {
	b.pipe.Discard()
	return nil
}
