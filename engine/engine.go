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

package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"strconv"
	"time"

	"github.com/gorse-io/reel/base/log"
	"github.com/gorse-io/reel/config"
	"github.com/gorse-io/reel/dataset"
	"github.com/gorse-io/reel/logics"
	"github.com/gorse-io/reel/model"
	"github.com/gorse-io/reel/model/cf"
	"github.com/gorse-io/reel/model/content"
	"github.com/gorse-io/reel/storage/blob"
	"github.com/juju/errors"
	"go.uber.org/zap"
)

// SnapshotProvider supplies read-only snapshots of the catalog, ratings and watchlists.
type SnapshotProvider interface {
	GetItems(ctx context.Context) ([]dataset.Item, error)
	GetRatings(ctx context.Context) ([]dataset.Rating, error)
	GetWatchlist(ctx context.Context) ([]dataset.WatchlistEntry, error)
}

// Engine serves recommendations from models built once at construction.
type Engine struct {
	config        *config.Config
	store         blob.Store
	cache         *ModelCache
	data          *dataset.Dataset
	content       *content.Model
	collaborative cf.State
	recommender   *logics.Recommender
}

// NewEngine loads snapshots and builds or loads both models. It blocks until the engine
// is ready to serve.
func NewEngine(ctx context.Context, cfg *config.Config, provider SnapshotProvider, store blob.Store) (*Engine, error) {
	e := &Engine{
		config: cfg,
		store:  store,
		cache:  NewModelCache(store),
	}
	if err := e.loadSnapshots(ctx, provider); err != nil {
		return nil, errors.Trace(err)
	}
	if err := e.buildContent(ctx); err != nil {
		return nil, errors.Trace(err)
	}
	if err := e.buildCollaborative(ctx); err != nil {
		return nil, errors.Trace(err)
	}
	scorer := logics.NewScorer(e.content, e.collaborative)
	var err error
	if e.recommender, err = logics.NewRecommender(e.data, scorer, cfg.Recommend); err != nil {
		return nil, errors.Trace(err)
	}
	return e, nil
}

func (e *Engine) loadSnapshots(ctx context.Context, provider SnapshotProvider) error {
	start := time.Now()
	items, err := provider.GetItems(ctx)
	if err != nil {
		return errors.Annotate(err, "load items")
	}
	ratings, err := provider.GetRatings(ctx)
	if err != nil {
		return errors.Annotate(err, "load ratings")
	}
	watchlist, err := provider.GetWatchlist(ctx)
	if err != nil {
		return errors.Annotate(err, "load watchlist")
	}
	e.data = dataset.NewDataset(items, ratings, watchlist)
	BuildSeconds.WithLabelValues(StepLoadSnapshots).Observe(time.Since(start).Seconds())
	log.Logger().Info("load snapshots complete",
		zap.Int("n_items", e.data.CountItems()),
		zap.Int("n_ratings", e.data.CountRatings()),
		zap.Int("n_users", e.data.CountUsers()),
		zap.Int("n_watchlist", len(e.data.GetWatchlist())))
	return nil
}

func (e *Engine) contentParams() model.Params {
	c := e.config.Content
	return model.Params{
		model.MaxFeatures: c.MaxFeatures,
		model.MinNGram:    c.MinNGram,
		model.MaxNGram:    c.MaxNGram,
		model.StopWords:   c.StopWords,
	}
}

func (e *Engine) collaborativeParams() model.Params {
	c := e.config.Collaborative
	return model.Params{
		model.NFactors:    c.NFactors,
		model.NEpochs:     c.NEpochs,
		model.Lr:          c.Lr,
		model.Reg:         c.Reg,
		model.InitMean:    c.InitMean,
		model.InitStdDev:  c.InitStd,
		model.TestRatio:   c.TestRatio,
		model.RandomState: c.RandomState,
	}
}

func fingerprint(parts ...string) string {
	h := sha256.New()
	for _, part := range parts {
		_, _ = io.WriteString(h, part)
		_, _ = h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (e *Engine) buildContent(ctx context.Context) error {
	start := time.Now()
	params := e.contentParams()
	err := e.loadOrBuild(ctx, KindContent,
		fingerprint(e.data.ContentFingerprint(), params.ToString()),
		func(r io.Reader) error {
			m := content.NewModel(nil)
			if err := m.Unmarshal(r); err != nil {
				return err
			}
			if m.Invalid() {
				return errors.NotValidf("content model")
			}
			e.content = m
			return nil
		},
		func() Artifact {
			e.content = content.NewModel(params)
			e.content.Fit(e.data.GetItems(), e.config.Recommend.NumJobs)
			return e.content
		})
	if err != nil {
		return errors.Trace(err)
	}
	BuildSeconds.WithLabelValues(StepContent).Observe(time.Since(start).Seconds())
	return nil
}

func (e *Engine) buildCollaborative(ctx context.Context) error {
	start := time.Now()
	params := e.collaborativeParams()
	minRatings := e.config.Collaborative.MinRatings
	err := e.loadOrBuild(ctx, KindCollaborative,
		fingerprint(e.data.RatingsFingerprint(), params.ToString(), strconv.Itoa(minRatings)),
		func(r io.Reader) error {
			state, err := cf.UnmarshalState(r)
			if err != nil {
				return err
			}
			e.collaborative = state
			return nil
		},
		func() Artifact {
			e.collaborative = cf.Build(e.data.GetRatings(), minRatings, params)
			return e.collaborative
		})
	if err != nil {
		return errors.Trace(err)
	}
	BuildSeconds.WithLabelValues(StepCollaborative).Observe(time.Since(start).Seconds())
	return nil
}

// loadOrBuild loads a cached artifact or builds and saves a new one while holding the
// build lock of its kind. The cache is checked again once the lock is held.
func (e *Engine) loadOrBuild(ctx context.Context, kind, fp string, decode func(r io.Reader) error, build func() Artifact) error {
	usable := func() (bool, error) {
		stored, found, err := e.cache.Load(ctx, kind, decode)
		if err != nil {
			return false, errors.Trace(err)
		}
		if !found {
			return false, nil
		}
		if stored == fp {
			CacheResults.WithLabelValues(kind, CacheHit).Inc()
			log.Logger().Info("load model from cache", zap.String("kind", kind))
			return true, nil
		}
		CacheResults.WithLabelValues(kind, CacheStale).Inc()
		if !e.config.Cache.RebuildStale {
			log.Logger().Warn("load stale model from cache", zap.String("kind", kind),
				zap.String("cached_fingerprint", stored), zap.String("fingerprint", fp))
			return true, nil
		}
		log.Logger().Warn("cached model is stale, rebuild", zap.String("kind", kind),
			zap.String("cached_fingerprint", stored), zap.String("fingerprint", fp))
		return false, nil
	}

	if ok, err := usable(); err != nil || ok {
		return err
	}
	if err := blob.Lock(ctx, e.store, kind, e.config.Cache.LockTTL, e.config.Cache.LockTimeout); err != nil {
		return errors.Trace(err)
	}
	defer func() {
		if err := e.store.Unlock(context.Background(), kind); err != nil {
			log.Logger().Error("failed to release build lock", zap.String("kind", kind), zap.Error(err))
		}
	}()
	if ok, err := usable(); err != nil || ok {
		return err
	}
	CacheResults.WithLabelValues(kind, CacheMiss).Inc()
	log.Logger().Info("build model", zap.String("kind", kind))
	artifact := build()
	if err := e.cache.Save(ctx, kind, fp, artifact); err != nil {
		return errors.Annotatef(err, "save %s model", kind)
	}
	return nil
}

// Recommend returns at most n item ids for a user. Unknown users get cold start items.
func (e *Engine) Recommend(userId int64, n int) []int64 {
	start := time.Now()
	path := e.path(userId)
	result := e.recommender.Recommend(userId, n)
	RecommendTotal.WithLabelValues(path).Inc()
	RecommendSeconds.WithLabelValues(path).Observe(time.Since(start).Seconds())
	return result
}

// RecommendWithScores returns recommended items with their score breakdown.
func (e *Engine) RecommendWithScores(userId int64, n int) []logics.Record {
	start := time.Now()
	path := e.path(userId)
	result := e.recommender.RecommendWithScores(userId, n)
	RecommendTotal.WithLabelValues(path).Inc()
	RecommendSeconds.WithLabelValues(path).Observe(time.Since(start).Seconds())
	return result
}

func (e *Engine) path(userId int64) string {
	if e.recommender.IsColdStart(userId) {
		return PathColdStart
	}
	return PathHybrid
}

func (e *Engine) Dataset() *dataset.Dataset {
	return e.data
}

func (e *Engine) ContentModel() *content.Model {
	return e.content
}

func (e *Engine) CollaborativeState() cf.State {
	return e.collaborative
}

// PurgeCache removes every cached model so that the next engine rebuilds them.
func PurgeCache(ctx context.Context, store blob.Store) error {
	cache := NewModelCache(store)
	for _, kind := range []string{KindContent, KindCollaborative} {
		if err := cache.Purge(ctx, kind); err != nil {
			return errors.Annotatef(err, "purge %s model", kind)
		}
	}
	return nil
}
