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
	"path"
	"time"

	"github.com/gorse-io/reel/base/log"
	"github.com/gorse-io/reel/config"
	"github.com/juju/errors"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// S3 stores objects in an S3 compatible bucket. Objects are written by single puts, so
// readers see either the previous or the new object.
type S3 struct {
	*minio.Client
	bucket string
	prefix string
	tokens *lockTokens
}

func NewS3(cfg config.S3Config) (*S3, error) {
	minioClient, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &S3{
		Client: minioClient,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		tokens: newLockTokens(),
	}, nil
}

func (s *S3) key(name string) string {
	return path.Join(s.prefix, name)
}

func isNoSuchKey(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}

// Open an object for reading.
func (s *S3) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	object, err := s.Client.GetObject(ctx, s.bucket, s.key(name), minio.GetObjectOptions{})
	if err != nil {
		return nil, errors.Trace(err)
	}
	// GetObject is lazy, stat to surface missing keys now
	if _, err = object.Stat(); err != nil {
		_ = object.Close()
		if isNoSuchKey(err) {
			return nil, errors.Annotatef(ErrObjectNotExist, "%s", name)
		}
		return nil, errors.Trace(err)
	}
	return object, nil
}

// Create an object for writing.
func (s *S3) Create(ctx context.Context, name string) (*Upload, error) {
	fullPath := s.key(name)
	return newUpload(func(r io.Reader) error {
		_, err := s.Client.PutObject(ctx, s.bucket, fullPath, r, -1, minio.PutObjectOptions{})
		if err != nil {
			log.Logger().Error("failed to upload file to S3", zap.String("file", fullPath), zap.Error(err))
			return errors.Trace(err)
		}
		return nil
	}), nil
}

func (s *S3) Remove(ctx context.Context, name string) error {
	return errors.Trace(s.Client.RemoveObject(ctx, s.bucket, s.key(name), minio.RemoveObjectOptions{}))
}

// TryLock writes a lock object unless a fresh one exists. S3 offers no compare-and-set,
// so two processes racing between stat and put may both succeed.
func (s *S3) TryLock(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	lockKey := s.key(name + ".lock")
	info, err := s.Client.StatObject(ctx, s.bucket, lockKey, minio.StatObjectOptions{})
	if err == nil && time.Since(info.LastModified) <= ttl {
		return false, nil
	} else if err != nil && !isNoSuchKey(err) {
		return false, errors.Trace(err)
	}
	token := s.tokens.issue()
	if _, err = s.Client.PutObject(ctx, s.bucket, lockKey, bytes.NewReader([]byte(token)), int64(len(token)), minio.PutObjectOptions{}); err != nil {
		return false, errors.Trace(err)
	}
	s.tokens.set(name, token)
	return true, nil
}

// Unlock removes the lock object if it still holds this store's token.
func (s *S3) Unlock(ctx context.Context, name string) error {
	token, ok := s.tokens.take(name)
	if !ok {
		return nil
	}
	lockKey := s.key(name + ".lock")
	object, err := s.Client.GetObject(ctx, s.bucket, lockKey, minio.GetObjectOptions{})
	if err != nil {
		return errors.Trace(err)
	}
	content, err := io.ReadAll(object)
	_ = object.Close()
	if isNoSuchKey(err) {
		return nil
	} else if err != nil {
		return errors.Trace(err)
	}
	if string(content) != token {
		log.Logger().Warn("lock was taken over by another process", zap.String("lock", lockKey))
		return nil
	}
	return errors.Trace(s.Client.RemoveObject(ctx, s.bucket, lockKey, minio.RemoveObjectOptions{}))
}
