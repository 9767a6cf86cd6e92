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

const (
	ContentWeight       = 0.4
	CollaborativeWeight = 0.6
	WatchlistBoost      = 0.2
	// ContentScale maps similarities in [0, 1] onto the rating range.
	ContentScale = 5.0
)

// Record is the score breakdown of one candidate item.
type Record struct {
	ItemID             int64   `json:"item_id"`
	ContentScore       float64 `json:"content_score"`
	CollaborativeScore float64 `json:"collaborative_score"`
	HybridScore        float64 `json:"hybrid_score"`
	InWatchlist        bool    `json:"in_watchlist"`
	ColdStart          bool    `json:"cold_start,omitempty"`
}

// Similarity looks up the content similarity of two items.
type Similarity interface {
	Similarity(a, b int64) (float64, bool)
}

// Predictor estimates ratings. It never fails: missing predictions are neutral.
type Predictor interface {
	Score(userId, itemId int64) float64
}

// Scorer blends content similarity and predicted ratings.
type Scorer struct {
	similarity Similarity
	predictor  Predictor
}

func NewScorer(similarity Similarity, predictor Predictor) *Scorer {
	return &Scorer{similarity: similarity, predictor: predictor}
}

// ContentScore is the mean similarity between the candidate and rated items, scaled by
// ContentScale. Rated items without a similarity are skipped; if none remain the score is 0.
func (s *Scorer) ContentScore(candidate int64, rated []int64) float64 {
	var sum float64
	var count int
	for _, itemId := range rated {
		if sim, ok := s.similarity.Similarity(candidate, itemId); ok {
			sum += sim
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count) * ContentScale
}

// Score a candidate item for a user. The watchlist boost is added without clamping.
func (s *Scorer) Score(userId int64, rated []int64, candidate int64, inWatchlist bool) Record {
	record := Record{
		ItemID:             candidate,
		ContentScore:       s.ContentScore(candidate, rated),
		CollaborativeScore: s.predictor.Score(userId, candidate),
		InWatchlist:        inWatchlist,
	}
	record.HybridScore = ContentWeight*record.ContentScore + CollaborativeWeight*record.CollaborativeScore
	if inWatchlist {
		record.HybridScore += WatchlistBoost
	}
	return record
}
