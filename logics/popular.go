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
	"reflect"
	"sort"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/gorse-io/reel/base"
	"github.com/gorse-io/reel/base/log"
	"github.com/gorse-io/reel/dataset"
	"github.com/juju/errors"
	"go.uber.org/zap"
)

// DefaultPopularityScore ranks items by rating count times mean rating.
const DefaultPopularityScore = "count * mean"

// Popularity ranks items by an expression over per-item rating statistics.
// Available variables are count, sum and mean.
type Popularity struct {
	scoreFunc *vm.Program
}

func popularityEnv(count int, sum float64) map[string]any {
	mean := 0.0
	if count > 0 {
		mean = sum / float64(count)
	}
	return map[string]any{
		"count": count,
		"sum":   sum,
		"mean":  mean,
	}
}

func NewPopularity(score string) (*Popularity, error) {
	scoreFunc, err := expr.Compile(score, expr.Env(popularityEnv(0, 0)))
	if err != nil {
		return nil, errors.Trace(err)
	}
	switch scoreFunc.Node().Type().Kind() {
	case reflect.Float64, reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
	default:
		return nil, errors.NotValidf("popularity score %q must return a number", score)
	}
	return &Popularity{scoreFunc: scoreFunc}, nil
}

// Rank returns the rated catalog items in descending popularity. Ties keep catalog order.
func (p *Popularity) Rank(data *dataset.Dataset) []int64 {
	index := data.GetItemIndex()
	counts := make([]int, index.Len())
	sums := make([]float64, index.Len())
	for _, rating := range data.GetRatings() {
		if i := index.ToDenseId(rating.ItemID); i != base.NotId {
			counts[i]++
			sums[i] += rating.Value
		}
	}
	type candidate struct {
		itemId int64
		score  float64
	}
	var candidates []candidate
	visited := make([]bool, index.Len())
	for _, item := range data.GetItems() {
		// duplicate catalog entries are ranked once
		i := index.ToDenseId(item.ID)
		if counts[i] == 0 || visited[i] {
			continue
		}
		visited[i] = true
		score, err := p.evaluate(counts[i], sums[i])
		if err != nil {
			log.Logger().Error("evaluate popularity score", zap.Int64("item_id", item.ID), zap.Error(err))
			continue
		}
		candidates = append(candidates, candidate{itemId: item.ID, score: score})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})
	ranked := make([]int64, len(candidates))
	for i, c := range candidates {
		ranked[i] = c.itemId
	}
	return ranked
}

func (p *Popularity) evaluate(count int, sum float64) (float64, error) {
	result, err := expr.Run(p.scoreFunc, popularityEnv(count, sum))
	if err != nil {
		return 0, errors.Trace(err)
	}
	switch typed := result.(type) {
	case float64:
		return typed, nil
	case int:
		return float64(typed), nil
	case int8:
		return float64(typed), nil
	case int16:
		return float64(typed), nil
	case int32:
		return float64(typed), nil
	case int64:
		return float64(typed), nil
	}
	return 0, errors.Errorf("popularity score must return float64, got %v", result)
}
