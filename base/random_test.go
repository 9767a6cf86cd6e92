// Copyright 2020 gorse Project Authors
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

package base

import (
	"math"
	"sync"
	"testing"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/stat"
)

const randomEpsilon = 0.1

func TestRandomGenerator_NormalMatrix(t *testing.T) {
	rng := NewRandomGenerator(0)
	vec := rng.NormalMatrix(1, 1000, 1, 2)[0]
	assert.False(t, math.Abs(stat.Mean(vec, nil)-1) > randomEpsilon)
	assert.False(t, math.Abs(stat.StdDev(vec, nil)-2) > randomEpsilon)
}

func TestRandomGenerator_Sample(t *testing.T) {
	excludeSet := mapset.NewSet(0, 1, 2, 3, 4)
	rng := NewRandomGenerator(0)
	for i := 1; i <= 10; i++ {
		sampled := rng.Sample(0, 10, i, excludeSet)
		assert.Equal(t, min(i, 5), len(sampled))
		assert.Equal(t, len(sampled), mapset.NewSet(sampled...).Cardinality())
		for j := range sampled {
			assert.False(t, excludeSet.Contains(sampled[j]))
		}
	}
	// sample everything
	assert.Equal(t, []int{0, 1, 2}, rng.Sample(0, 3, 10))
	assert.Equal(t, []int{0, 1, 2}, rng.Sample(0, 3, math.MaxInt))
	assert.Empty(t, rng.Sample(0, 3, 0))
	assert.Empty(t, rng.Sample(0, 0, 5))
}

func TestNewRand(t *testing.T) {
	a, b := NewRand(42), NewRand(42)
	assert.Equal(t, a.Int63(), b.Int63())
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Go(func() {
			for j := 0; j < 1000; j++ {
				_ = a.Intn(100)
			}
		})
	}
	wg.Wait()
}
