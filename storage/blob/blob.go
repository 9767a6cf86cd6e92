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
	"context"
	"io"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/gorse-io/reel/config"
	"github.com/juju/errors"
)

var (
	ErrObjectNotExist = errors.NotFoundf("object")
	ErrLockTimeout    = errors.Timeoutf("build lock")
)

// Store keeps named binary objects. A reader never observes a partially written object.
type Store interface {
	// Open an object for reading. ErrObjectNotExist is returned for missing objects.
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	// Create an object for writing. The object becomes visible once the upload is closed.
	Create(ctx context.Context, name string) (*Upload, error)
	// Remove an object. Removing a missing object is not an error.
	Remove(ctx context.Context, name string) error
	Locker
}

// Locker provides advisory locks shared by every process using the same store.
type Locker interface {
	// TryLock acquires a lock without waiting. Locks older than ttl are considered abandoned.
	TryLock(ctx context.Context, name string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, name string) error
}

// Open a store by configuration.
func Open(cfg config.CacheConfig) (Store, error) {
	switch cfg.Type {
	case config.CacheTypePOSIX:
		return NewPOSIX(cfg.Dir), nil
	case config.CacheTypeS3:
		return NewS3(cfg.S3)
	case config.CacheTypeRedis:
		return NewRedis(cfg.Redis)
	}
	return nil, errors.NotSupportedf("cache type %s", cfg.Type)
}

// Lock waits until the lock is acquired, retrying with exponential backoff.
func Lock(ctx context.Context, locker Locker, name string, ttl, timeout time.Duration) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		ok, err := locker.TryLock(ctx, name, ttl)
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		if !ok {
			return struct{}{}, ErrLockTimeout
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(b), backoff.WithMaxElapsedTime(timeout))
	if err != nil {
		return errors.Annotatef(err, "lock %s", name)
	}
	return nil
}

// lockTokens remembers the token written into each lock held by this process.
type lockTokens struct {
	mu   sync.Mutex
	held map[string]string
}

func newLockTokens() *lockTokens {
	return &lockTokens{held: make(map[string]string)}
}

func (t *lockTokens) issue() string {
	return uuid.NewString()
}

func (t *lockTokens) set(name, token string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.held[name] = token
}

func (t *lockTokens) take(name string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	token, ok := t.held[name]
	delete(t.held, name)
	return token, ok
}

// Upload streams data to a store in the background.
type Upload struct {
	pw   *io.PipeWriter
	done chan struct{}
	err  error
}

func newUpload(upload func(r io.Reader) error) *Upload {
	pr, pw := io.Pipe()
	u := &Upload{pw: pw, done: make(chan struct{})}
	go func() {
		defer close(u.done)
		u.err = upload(pr)
		_ = pr.CloseWithError(u.err)
	}()
	return u
}

func (u *Upload) Write(p []byte) (int, error) {
	return u.pw.Write(p)
}

// Close commits the object and waits for the upload to finish.
func (u *Upload) Close() error {
	if err := u.pw.Close(); err != nil {
		return errors.Trace(err)
	}
	<-u.done
	return errors.Trace(u.err)
}

// Abort discards the object.
func (u *Upload) Abort(cause error) {
	if cause == nil {
		cause = io.ErrUnexpectedEOF
	}
	_ = u.pw.CloseWithError(cause)
	<-u.done
}
