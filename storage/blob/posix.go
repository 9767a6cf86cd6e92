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
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/gorse-io/reel/base/log"
	"github.com/juju/errors"
	"go.uber.org/zap"
)

// POSIX stores objects as files in a directory.
type POSIX struct {
	dir    string
	tokens *lockTokens
}

func NewPOSIX(dir string) *POSIX {
	return &POSIX{dir: dir, tokens: newLockTokens()}
}

// Open a file for reading.
func (p *POSIX) Open(_ context.Context, name string) (io.ReadCloser, error) {
	file, err := os.Open(filepath.Join(p.dir, name))
	if os.IsNotExist(err) {
		return nil, errors.Annotatef(ErrObjectNotExist, "%s", name)
	} else if err != nil {
		return nil, errors.Trace(err)
	}
	return file, nil
}

// Create a file for writing. Data goes to a temporary file which is renamed over the
// target when the upload is closed.
func (p *POSIX) Create(_ context.Context, name string) (*Upload, error) {
	fullPath := filepath.Join(p.dir, name)
	if err := os.MkdirAll(filepath.Dir(fullPath), os.ModePerm); err != nil {
		return nil, errors.Trace(err)
	}
	file, err := os.CreateTemp(filepath.Dir(fullPath), filepath.Base(fullPath)+".tmp-*")
	if err != nil {
		return nil, errors.Trace(err)
	}
	return newUpload(func(r io.Reader) error {
		_, err := io.Copy(file, r)
		if err == nil {
			err = file.Sync()
		}
		if closeErr := file.Close(); err == nil {
			err = closeErr
		}
		if err == nil {
			err = os.Rename(file.Name(), fullPath)
		}
		if err != nil {
			_ = os.Remove(file.Name())
			log.Logger().Error("failed to write file", zap.String("file", fullPath), zap.Error(err))
			return errors.Trace(err)
		}
		return nil
	}), nil
}

func (p *POSIX) Remove(_ context.Context, name string) error {
	err := os.Remove(filepath.Join(p.dir, name))
	if err != nil && !os.IsNotExist(err) {
		return errors.Trace(err)
	}
	return nil
}

func (p *POSIX) lockPath(name string) string {
	return filepath.Join(p.dir, name+".lock")
}

// TryLock creates a lock file exclusively and writes this store's token into it. An
// abandoned lock file is moved aside before the new one is created.
func (p *POSIX) TryLock(_ context.Context, name string, ttl time.Duration) (bool, error) {
	if err := os.MkdirAll(p.dir, os.ModePerm); err != nil {
		return false, errors.Trace(err)
	}
	path := p.lockPath(name)
	token := p.tokens.issue()
	if info, err := os.Stat(path); err == nil && time.Since(info.ModTime()) > ttl {
		if ok, err := p.takeOver(path, token, info.ModTime()); err != nil || !ok {
			return false, err
		}
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if os.IsExist(err) {
		return false, nil
	} else if err != nil {
		return false, errors.Trace(err)
	}
	defer file.Close()
	if _, err = file.WriteString(token); err != nil {
		_ = os.Remove(path)
		return false, errors.Trace(err)
	}
	p.tokens.set(name, token)
	return true, nil
}

// takeOver removes an abandoned lock. The lock is renamed to a private path first and
// restored if it turns out to be a fresh lock created by another contender in the
// meantime.
func (p *POSIX) takeOver(path, token string, acquiredAt time.Time) (bool, error) {
	abandoned, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return true, nil
	} else if err != nil {
		return false, errors.Trace(err)
	}
	private := fmt.Sprintf("%s.%s", path, token)
	if err = os.Rename(path, private); os.IsNotExist(err) {
		return true, nil
	} else if err != nil {
		return false, errors.Trace(err)
	}
	defer os.Remove(private)
	moved, err := os.ReadFile(private)
	if err != nil {
		return false, errors.Trace(err)
	}
	if string(moved) != string(abandoned) {
		// link fails if yet another lock exists, which then owns the name
		if err = os.Link(private, path); err != nil && !os.IsExist(err) {
			return false, errors.Trace(err)
		}
		return false, nil
	}
	log.Logger().Warn("remove abandoned lock", zap.String("lock", path), zap.Time("acquired_at", acquiredAt))
	return true, nil
}

// Unlock removes the lock file if it still holds this store's token.
func (p *POSIX) Unlock(_ context.Context, name string) error {
	token, ok := p.tokens.take(name)
	if !ok {
		return nil
	}
	path := p.lockPath(name)
	content, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	} else if err != nil {
		return errors.Trace(err)
	}
	if string(content) != token {
		log.Logger().Warn("lock was taken over by another process", zap.String("lock", path))
		return nil
	}
	if err = os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Trace(err)
	}
	return nil
}
