// Copyright 2024 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package blob

import (
	"bytes"
	"context"
	"io"
	"strings"
	"time"

	"github.com/gorse-io/reel/config"
	"github.com/gorse-io/reel/storage"
	"github.com/juju/errors"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
)

// unlockScript deletes a lock only if it still holds the caller's token.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis stores every object as a single string value.
type Redis struct {
	client *redis.Client
	prefix string
	tokens *lockTokens
}

func NewRedis(cfg config.RedisConfig) (*Redis, error) {
	if !strings.HasPrefix(cfg.URL, storage.RedisPrefix) && !strings.HasPrefix(cfg.URL, storage.RedissPrefix) {
		return nil, errors.NotValidf("redis url %q", cfg.URL)
	}
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, errors.Trace(err)
	}
	client := redis.NewClient(opt)
	if err = redisotel.InstrumentTracing(client); err != nil {
		return nil, errors.Trace(err)
	}
	return &Redis{client: client, prefix: cfg.Prefix, tokens: newLockTokens()}, nil
}

func (r *Redis) key(name string) string {
	return r.prefix + name
}

func (r *Redis) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	data, err := r.client.Get(ctx, r.key(name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, errors.Annotatef(ErrObjectNotExist, "%s", name)
	} else if err != nil {
		return nil, errors.Trace(err)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Create buffers the object and stores it with a single SET on close.
func (r *Redis) Create(ctx context.Context, name string) (*Upload, error) {
	return newUpload(func(reader io.Reader) error {
		data, err := io.ReadAll(reader)
		if err != nil {
			return errors.Trace(err)
		}
		return errors.Trace(r.client.Set(ctx, r.key(name), data, 0).Err())
	}), nil
}

func (r *Redis) Remove(ctx context.Context, name string) error {
	return errors.Trace(r.client.Del(ctx, r.key(name)).Err())
}

// TryLock uses SET NX with the ttl as expiration. The value is a token owned by this store.
func (r *Redis) TryLock(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	token := r.tokens.issue()
	ok, err := r.client.SetNX(ctx, r.key(name+".lock"), token, ttl).Result()
	if err != nil || !ok {
		return false, errors.Trace(err)
	}
	r.tokens.set(name, token)
	return true, nil
}

// Unlock deletes the lock if this store still owns it. A lock that expired and was taken
// over by another process is left alone.
func (r *Redis) Unlock(ctx context.Context, name string) error {
	token, ok := r.tokens.take(name)
	if !ok {
		return nil
	}
	return errors.Trace(unlockScript.Run(ctx, r.client, []string{r.key(name + ".lock")}, token).Err())
}

func (r *Redis) Close() error {
	return r.client.Close()
}
