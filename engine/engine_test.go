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
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gorse-io/reel/config"
	"github.com/gorse-io/reel/dataset"
	"github.com/gorse-io/reel/model/cf"
	"github.com/gorse-io/reel/storage/blob"
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
)

type mockProvider struct {
	items     []dataset.Item
	ratings   []dataset.Rating
	watchlist []dataset.WatchlistEntry
	err       error
}

func (m *mockProvider) GetItems(context.Context) ([]dataset.Item, error) {
	return m.items, m.err
}

func (m *mockProvider) GetRatings(context.Context) ([]dataset.Rating, error) {
	return m.ratings, nil
}

func (m *mockProvider) GetWatchlist(context.Context) ([]dataset.WatchlistEntry, error) {
	return m.watchlist, nil
}

var genres = []string{"Action", "Comedy", "Drama", "Horror", "Romance"}

func newMockProvider(nItems, nUsers int) *mockProvider {
	provider := &mockProvider{}
	for i := 0; i < nItems; i++ {
		provider.items = append(provider.items, dataset.Item{
			ID:       int64(1000 + i),
			Title:    fmt.Sprintf("Movie %d", i),
			Genres:   genres[i%len(genres)],
			Overview: fmt.Sprintf("A story about %s and %s", genres[(i+1)%len(genres)], genres[(i+2)%len(genres)]),
		})
	}
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for u := 0; u < nUsers; u++ {
		for i := 0; i < nItems; i++ {
			if (u+i)%3 != 0 {
				continue
			}
			provider.ratings = append(provider.ratings, dataset.Rating{
				ID:        int64(len(provider.ratings) + 1),
				UserID:    int64(u),
				ItemID:    int64(1000 + i),
				Value:     float64(1 + (u*7+i)%9) / 2,
				Timestamp: base.Add(time.Duration(len(provider.ratings)) * time.Minute),
			})
		}
	}
	provider.watchlist = []dataset.WatchlistEntry{{ID: 1, UserID: 0, ItemID: 1001}}
	return provider
}

type EngineTestSuite struct {
	suite.Suite
	dir    string
	store  blob.Store
	config *config.Config
}

func (suite *EngineTestSuite) SetupTest() {
	suite.dir = suite.T().TempDir()
	suite.store = blob.NewPOSIX(suite.dir)
	suite.config = config.GetDefaultConfig()
	suite.config.Collaborative.NFactors = 8
	suite.config.Collaborative.NEpochs = 5
	suite.config.Recommend.NumJobs = 2
	suite.config.Recommend.RandomState = 1
	suite.config.Cache.LockTimeout = time.Second
}

func (suite *EngineTestSuite) newEngine(provider SnapshotProvider) *Engine {
	e, err := NewEngine(context.Background(), suite.config, provider, suite.store)
	suite.Require().NoError(err)
	return e
}

func (suite *EngineTestSuite) TestRecommend() {
	provider := newMockProvider(30, 30)
	e := suite.newEngine(provider)
	suite.True(e.CollaborativeState().IsPresent())
	suite.Equal(30, e.ContentModel().Dim())

	catalog := mapset.NewSet[int64]()
	for _, item := range provider.items {
		catalog.Add(item.ID)
	}
	for userId := int64(0); userId < 32; userId++ {
		rated := mapset.NewSet[int64]()
		for _, rating := range e.Dataset().GetUserRatings(userId) {
			rated.Add(rating.ItemID)
		}
		for _, n := range []int{0, 1, 5, 100} {
			result := e.Recommend(userId, n)
			suite.LessOrEqual(len(result), n)
			set := mapset.NewSet(result...)
			suite.Equal(len(result), set.Cardinality())
			suite.True(set.IsSubset(catalog))
			suite.True(set.Intersect(rated).IsEmpty())
		}
	}
	// unknown users are cold start
	records := e.RecommendWithScores(999, 3)
	suite.Len(records, 3)
	suite.True(records[0].ColdStart)
}

func (suite *EngineTestSuite) TestCacheRoundTrip() {
	provider := newMockProvider(20, 30)
	first := suite.newEngine(provider)
	suite.FileExists(filepath.Join(suite.dir, "content.model"))
	suite.FileExists(filepath.Join(suite.dir, "collaborative.model"))

	hits := testutil.ToFloat64(CacheResults.WithLabelValues(KindContent, CacheHit))
	second := suite.newEngine(provider)
	suite.Equal(hits+1, testutil.ToFloat64(CacheResults.WithLabelValues(KindContent, CacheHit)))
	for userId := int64(0); userId < 30; userId++ {
		suite.Equal(first.RecommendWithScores(userId, 10), second.RecommendWithScores(userId, 10))
	}
}

func (suite *EngineTestSuite) TestDuplicateItems() {
	provider := newMockProvider(10, 3)
	provider.items = append(provider.items, dataset.Item{ID: 1000, Genres: "Western"})
	first := suite.newEngine(provider)
	suite.Equal(10, first.ContentModel().Dim())
	// the cached artifact loads back
	second := suite.newEngine(provider)
	suite.Equal(10, second.ContentModel().Dim())
	for userId := int64(0); userId < 3; userId++ {
		result := second.Recommend(userId, 100)
		suite.Equal(len(result), mapset.NewSet(result...).Cardinality())
		suite.Equal(first.RecommendWithScores(userId, 100), second.RecommendWithScores(userId, 100))
	}
}

func (suite *EngineTestSuite) TestAbsentCollaborative() {
	provider := newMockProvider(10, 3)
	suite.Less(len(provider.ratings), 100)
	e := suite.newEngine(provider)
	suite.False(e.CollaborativeState().IsPresent())
	for _, record := range e.RecommendWithScores(0, 10) {
		suite.Equal(cf.NeutralScore, record.CollaborativeScore)
	}
	// the absent state is cached as well
	e = suite.newEngine(provider)
	suite.False(e.CollaborativeState().IsPresent())
}

func (suite *EngineTestSuite) TestStale() {
	provider := newMockProvider(10, 30)
	suite.newEngine(provider)

	changed := newMockProvider(12, 30)
	suite.config.Cache.RebuildStale = false
	e := suite.newEngine(changed)
	suite.Equal(10, e.ContentModel().Dim())

	suite.config.Cache.RebuildStale = true
	e = suite.newEngine(changed)
	suite.Equal(12, e.ContentModel().Dim())
	e = suite.newEngine(changed)
	suite.Equal(12, e.ContentModel().Dim())
}

func (suite *EngineTestSuite) TestCorruptArtifact() {
	provider := newMockProvider(10, 30)
	suite.newEngine(provider)
	suite.NoError(os.WriteFile(filepath.Join(suite.dir, "collaborative.model"), []byte("garbage"), 0644))
	_, err := NewEngine(context.Background(), suite.config, provider, suite.store)
	suite.True(errors.Is(err, ErrCorruptArtifact))
}

func (suite *EngineTestSuite) TestSnapshotError() {
	provider := newMockProvider(10, 3)
	provider.err = errors.New("connection refused")
	_, err := NewEngine(context.Background(), suite.config, provider, suite.store)
	suite.Error(err)
}

func (suite *EngineTestSuite) TestLockTimeout() {
	ok, err := suite.store.TryLock(context.Background(), KindContent, time.Hour)
	suite.NoError(err)
	suite.True(ok)
	suite.config.Cache.LockTimeout = 200 * time.Millisecond
	_, err = NewEngine(context.Background(), suite.config, newMockProvider(10, 3), suite.store)
	suite.True(errors.Is(err, blob.ErrLockTimeout))
}

func (suite *EngineTestSuite) TestPurgeCache() {
	provider := newMockProvider(10, 3)
	suite.newEngine(provider)
	suite.NoError(PurgeCache(context.Background(), suite.store))
	suite.NoFileExists(filepath.Join(suite.dir, "content.model"))
	suite.NoFileExists(filepath.Join(suite.dir, "collaborative.model"))
	suite.NoError(PurgeCache(context.Background(), suite.store))
}

func TestEngine(t *testing.T) {
	suite.Run(t, new(EngineTestSuite))
}
