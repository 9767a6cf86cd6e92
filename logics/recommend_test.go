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

package logics

import (
	"math"
	"testing"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gorse-io/reel/config"
	"github.com/gorse-io/reel/dataset"
	"github.com/gorse-io/reel/model/cf"
	"github.com/stretchr/testify/assert"
)

const (
	itemA int64 = 1
	itemB int64 = 2
	itemC int64 = 3
	userU int64 = 7
)

type mockSimilarity map[[2]int64]float64

func (m mockSimilarity) Similarity(a, b int64) (float64, bool) {
	if a == b {
		return 1, true
	}
	if sim, ok := m[[2]int64{a, b}]; ok {
		return sim, true
	}
	sim, ok := m[[2]int64{b, a}]
	return sim, ok
}

type mockPredictor map[int64]float64

func (m mockPredictor) Score(_, itemId int64) float64 {
	return m[itemId]
}

func newScenario(watchlist ...dataset.WatchlistEntry) (*Recommender, *Scorer) {
	items := []dataset.Item{{ID: itemA}, {ID: itemB}, {ID: itemC}}
	ratings := []dataset.Rating{{ID: 1, UserID: userU, ItemID: itemA, Value: 4.5}}
	scorer := NewScorer(mockSimilarity{{itemA, itemB}: 0.8, {itemA, itemC}: 0.1}, cf.Absent())
	r, err := NewRecommender(dataset.NewDataset(items, ratings, watchlist), scorer, config.GetDefaultConfig().Recommend)
	if err != nil {
		panic(err)
	}
	return r, scorer
}

func TestScorer(t *testing.T) {
	_, scorer := newScenario()
	record := scorer.Score(userU, []int64{itemA}, itemB, false)
	assert.InDelta(t, 4.0, record.ContentScore, 1e-9)
	assert.Equal(t, cf.NeutralScore, record.CollaborativeScore)
	assert.InDelta(t, 3.4, record.HybridScore, 1e-9)
	assert.False(t, record.InWatchlist)

	record = scorer.Score(userU, []int64{itemA}, itemC, false)
	assert.InDelta(t, 0.5, record.ContentScore, 1e-9)
	assert.InDelta(t, 2.0, record.HybridScore, 1e-9)

	// the boost is exactly additive
	boosted := scorer.Score(userU, []int64{itemA}, itemC, true)
	assert.True(t, boosted.InWatchlist)
	assert.InDelta(t, WatchlistBoost, boosted.HybridScore-record.HybridScore, 1e-12)

	// no similarity data
	assert.Zero(t, scorer.ContentScore(itemB, nil))
	assert.Zero(t, scorer.ContentScore(itemB, []int64{99}))
	// missing similarities are skipped rather than counted as zero
	assert.InDelta(t, 4.0, scorer.ContentScore(itemB, []int64{itemA, 99}), 1e-9)
}

func TestScorerUnclamped(t *testing.T) {
	scorer := NewScorer(mockSimilarity{}, mockPredictor{itemB: 5})
	record := scorer.Score(userU, []int64{itemB}, itemB, true)
	assert.InDelta(t, 0.4*5+0.6*5+0.2, record.HybridScore, 1e-9)
	assert.Greater(t, record.HybridScore, 5.0)
}

func TestRecommendHybrid(t *testing.T) {
	r, _ := newScenario()
	assert.False(t, r.IsColdStart(userU))
	assert.Equal(t, []int64{itemB, itemC}, r.Recommend(userU, 2))
	assert.Equal(t, []int64{itemB}, r.Recommend(userU, 1))
	// rated items are never returned
	assert.Equal(t, []int64{itemB, itemC}, r.Recommend(userU, 10))
	assert.Equal(t, []int64{itemB, itemC}, r.Recommend(userU, math.MaxInt))
	assert.Empty(t, r.Recommend(userU, 0))
	assert.Empty(t, r.Recommend(userU, -1))

	records := r.RecommendWithScores(userU, 2)
	assert.Len(t, records, 2)
	assert.InDelta(t, 3.4, records[0].HybridScore, 1e-9)
	assert.InDelta(t, 2.0, records[1].HybridScore, 1e-9)
	assert.False(t, records[0].ColdStart)
}

func TestRecommendWatchlist(t *testing.T) {
	r, _ := newScenario(dataset.WatchlistEntry{ID: 1, UserID: userU, ItemID: itemC})
	records := r.RecommendWithScores(userU, 2)
	assert.Equal(t, itemB, records[0].ItemID)
	assert.Equal(t, itemC, records[1].ItemID)
	assert.InDelta(t, 2.2, records[1].HybridScore, 1e-9)
	assert.True(t, records[1].InWatchlist)
	assert.Equal(t, []int64{itemB, itemC}, r.Recommend(userU, 2))
}

func TestRecommendStableTies(t *testing.T) {
	items := []dataset.Item{{ID: 1}, {ID: 5}, {ID: 3}, {ID: 4}}
	ratings := []dataset.Rating{{UserID: 1, ItemID: 1, Value: 3}}
	scorer := NewScorer(mockSimilarity{}, mockPredictor{})
	r, err := NewRecommender(dataset.NewDataset(items, ratings, nil), scorer, config.RecommendConfig{NumJobs: 3})
	assert.NoError(t, err)
	assert.Equal(t, []int64{5, 3, 4}, r.Recommend(1, 3))
}

func TestRecommendColdStart(t *testing.T) {
	items := []dataset.Item{{ID: 1}, {ID: 2}, {ID: 3}, {ID: 4}}
	ratings := []dataset.Rating{
		{UserID: 10, ItemID: 1, Value: 5},
		{UserID: 10, ItemID: 2, Value: 4},
		{UserID: 11, ItemID: 2, Value: 4},
		{UserID: 11, ItemID: 4, Value: 1},
		// not in the catalog
		{UserID: 11, ItemID: 99, Value: 5},
	}
	scorer := NewScorer(mockSimilarity{}, cf.Absent())
	r, err := NewRecommender(dataset.NewDataset(items, ratings, nil), scorer, config.RecommendConfig{})
	assert.NoError(t, err)
	assert.True(t, r.IsColdStart(12))
	// 2: 2*4=8, 1: 1*5=5, 4: 1*1=1; item 3 is unrated
	assert.Equal(t, []int64{2, 1, 4}, r.Recommend(12, 10))
	assert.Equal(t, []int64{2, 1}, r.Recommend(12, 2))
	assert.Empty(t, r.Recommend(12, 0))

	records := r.RecommendWithScores(12, 2)
	assert.Len(t, records, 2)
	assert.True(t, records[0].ColdStart)
	assert.Zero(t, records[0].HybridScore)

	// custom popularity
	r, err = NewRecommender(dataset.NewDataset(items, ratings, nil), scorer, config.RecommendConfig{PopularityScore: "mean"})
	assert.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 4}, r.Recommend(12, 3))

	_, err = NewRecommender(dataset.NewDataset(items, ratings, nil), scorer, config.RecommendConfig{PopularityScore: "'popular'"})
	assert.Error(t, err)
	_, err = NewRecommender(dataset.NewDataset(items, ratings, nil), scorer, config.RecommendConfig{PopularityScore: "count +"})
	assert.Error(t, err)
}

func TestRecommendRandom(t *testing.T) {
	items := []dataset.Item{{ID: 10}, {ID: 20}, {ID: 30}, {ID: 40}, {ID: 50}}
	catalog := mapset.NewSet[int64](10, 20, 30, 40, 50)
	scorer := NewScorer(mockSimilarity{}, cf.Absent())
	r, err := NewRecommender(dataset.NewDataset(items, nil, nil), scorer, config.RecommendConfig{RandomState: 1})
	assert.NoError(t, err)
	for n := 1; n <= 7; n++ {
		result := r.Recommend(1, n)
		assert.Len(t, result, min(n, 5))
		set := mapset.NewSet(result...)
		assert.Equal(t, len(result), set.Cardinality())
		assert.True(t, set.IsSubset(catalog))
	}
	assert.ElementsMatch(t, []int64{10, 20, 30, 40, 50}, r.Recommend(1, math.MaxInt))
	assert.Len(t, r.RecommendWithScores(1, math.MaxInt), 5)

	// empty catalog
	r, err = NewRecommender(dataset.NewDataset(nil, nil, nil), scorer, config.RecommendConfig{})
	assert.NoError(t, err)
	assert.Empty(t, r.Recommend(1, 3))
}
