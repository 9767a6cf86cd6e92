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
	"sort"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gorse-io/reel/base"
	"github.com/gorse-io/reel/common/parallel"
	"github.com/gorse-io/reel/config"
	"github.com/gorse-io/reel/dataset"
	"github.com/juju/errors"
	"github.com/samber/lo"
)

// Recommender ranks items for users over an immutable snapshot. It is safe for
// concurrent use.
type Recommender struct {
	data    *dataset.Dataset
	scorer  *Scorer
	popular []int64
	rng     base.RandomGenerator
	numJobs int
}

func NewRecommender(data *dataset.Dataset, scorer *Scorer, cfg config.RecommendConfig) (*Recommender, error) {
	score := cfg.PopularityScore
	if score == "" {
		score = DefaultPopularityScore
	}
	popularity, err := NewPopularity(score)
	if err != nil {
		return nil, errors.Trace(err)
	}
	seed := cfg.RandomState
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Recommender{
		data:    data,
		scorer:  scorer,
		popular: popularity.Rank(data),
		rng:     base.RandomGenerator{Rand: base.NewRand(seed)},
		numJobs: max(1, cfg.NumJobs),
	}, nil
}

// IsColdStart reports whether a user has no ratings. Unknown users are cold start.
func (r *Recommender) IsColdStart(userId int64) bool {
	return !r.data.HasRatings(userId)
}

// Recommend returns at most n item ids for a user.
func (r *Recommender) Recommend(userId int64, n int) []int64 {
	if n <= 0 {
		return []int64{}
	}
	if r.IsColdStart(userId) {
		return r.coldStart(n)
	}
	return lo.Map(r.hybrid(userId, n), func(record Record, _ int) int64 {
		return record.ItemID
	})
}

// RecommendWithScores returns the score breakdown of recommended items. Cold start
// items carry no component scores.
func (r *Recommender) RecommendWithScores(userId int64, n int) []Record {
	if n <= 0 {
		return []Record{}
	}
	if r.IsColdStart(userId) {
		return lo.Map(r.coldStart(n), func(itemId int64, _ int) Record {
			return Record{
				ItemID:      itemId,
				InWatchlist: r.data.InWatchlist(userId, itemId),
				ColdStart:   true,
			}
		})
	}
	return r.hybrid(userId, n)
}

// coldStart returns the most popular items, or random items if nothing was rated.
func (r *Recommender) coldStart(n int) []int64 {
	if len(r.popular) > 0 {
		return append([]int64(nil), r.popular[:min(n, len(r.popular))]...)
	}
	index := r.data.GetItemIndex()
	return lo.Map(r.rng.Sample(0, index.Len(), n), func(i int, _ int) int64 {
		return index.ToSparseId(i)
	})
}

func (r *Recommender) hybrid(userId int64, n int) []Record {
	ratings := r.data.GetUserRatings(userId)
	rated := lo.Uniq(lo.Map(ratings, func(rating dataset.Rating, _ int) int64 {
		return rating.ItemID
	}))
	excluded := mapset.NewThreadUnsafeSet(rated...)
	var candidates []int64
	for _, item := range r.data.GetItems() {
		if excluded.Add(item.ID) {
			candidates = append(candidates, item.ID)
		}
	}
	records := make([]Record, len(candidates))
	parallel.For(len(candidates), r.numJobs, func(i int) {
		records[i] = r.scorer.Score(userId, rated, candidates[i], r.data.InWatchlist(userId, candidates[i]))
	})
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].HybridScore > records[j].HybridScore
	})
	return records[:min(n, len(records))]
}
