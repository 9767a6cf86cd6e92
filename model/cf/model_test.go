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

package cf

import (
	"bytes"
	"testing"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gorse-io/reel/dataset"
	"github.com/gorse-io/reel/model"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
)

// newTestRatings generates ratings where items 0-4 are loved and items 5-9 are disliked.
func newTestRatings(nUsers int) []dataset.Rating {
	var ratings []dataset.Rating
	for u := 0; u < nUsers; u++ {
		for i := 0; i < 10; i++ {
			value := 5.0
			if i >= 5 {
				value = 1.0
			}
			ratings = append(ratings, dataset.Rating{
				ID:     int64(len(ratings) + 1),
				UserID: int64(100 + u),
				ItemID: int64(i),
				Value:  value,
			})
		}
	}
	return ratings
}

func newTestParams() model.Params {
	return model.Params{
		model.NFactors:    10,
		model.NEpochs:     20,
		model.RandomState: 42,
	}
}

func TestSVD_Split(t *testing.T) {
	svd := NewSVD(model.Params{model.TestRatio: 0.2, model.RandomState: 42})
	train, test := svd.Split(11)
	// ceil(0.2 * 11) = 3
	assert.Len(t, test, 3)
	assert.Len(t, train, 8)
	all := mapset.NewSet(train...)
	all.Append(test...)
	assert.Equal(t, 11, all.Cardinality())

	// same seed, same split
	train2, test2 := NewSVD(model.Params{model.TestRatio: 0.2, model.RandomState: 42}).Split(11)
	assert.Equal(t, train, train2)
	assert.Equal(t, test, test2)
}

func TestSVD_HeldOutOnly(t *testing.T) {
	ratings := []dataset.Rating{
		{UserID: 1, ItemID: 10, Value: 4},
		{UserID: 2, ItemID: 20, Value: 2},
	}
	svd := NewSVD(newTestParams())
	svd.Init(ratings, []int{0})
	assert.True(t, svd.IsUserPredictable(svd.UserIndex.ToDenseId(1)))
	assert.False(t, svd.IsUserPredictable(svd.UserIndex.ToDenseId(2)))
	assert.False(t, svd.IsItemPredictable(svd.ItemIndex.ToDenseId(20)))
	_, err := svd.Predict(2, 10)
	assert.True(t, errors.Is(err, ErrUnknownUser))
	_, err = svd.Predict(1, 20)
	assert.True(t, errors.Is(err, ErrUnknownItem))
}

func TestSVD_Fit(t *testing.T) {
	ratings := newTestRatings(20)
	svd := NewSVD(newTestParams())
	svd.Fit(ratings)
	assert.InDelta(t, 3.0, svd.GlobalMean, 0.5)

	loved, err := svd.Predict(100, 0)
	assert.NoError(t, err)
	disliked, err := svd.Predict(100, 9)
	assert.NoError(t, err)
	assert.Greater(t, loved, disliked)
	for u := int64(100); u < 120; u++ {
		for i := int64(0); i < 10; i++ {
			if score, err := svd.Predict(u, i); err == nil {
				assert.GreaterOrEqual(t, score, MinRating)
				assert.LessOrEqual(t, score, MaxRating)
			}
		}
	}

	_, err = svd.Predict(999, 0)
	assert.True(t, errors.Is(err, ErrUnknownUser))
	_, err = svd.Predict(100, 999)
	assert.True(t, errors.Is(err, ErrUnknownItem))

	// training is deterministic
	other := NewSVD(newTestParams())
	other.Fit(ratings)
	assert.Equal(t, svd.UserFactor, other.UserFactor)
	assert.Equal(t, svd.ItemBias, other.ItemBias)
}

func TestSVD_Marshal(t *testing.T) {
	svd := NewSVD(newTestParams())
	svd.Fit(newTestRatings(20))
	buf := bytes.NewBuffer(nil)
	assert.NoError(t, svd.Marshal(buf))

	restored := new(SVD)
	assert.NoError(t, restored.Unmarshal(buf))
	assert.Equal(t, svd.GlobalMean, restored.GlobalMean)
	assert.Equal(t, svd.UserIndex.SparseIds, restored.UserIndex.SparseIds)
	assert.Equal(t, 10, restored.Params.GetInt(model.NFactors, 0))
	for u := int64(100); u < 120; u++ {
		for i := int64(0); i < 10; i++ {
			expected, expectedErr := svd.Predict(u, i)
			actual, actualErr := restored.Predict(u, i)
			assert.Equal(t, expectedErr == nil, actualErr == nil)
			assert.Equal(t, expected, actual)
		}
	}
}

func TestState(t *testing.T) {
	// too few ratings
	state := Build(newTestRatings(5), 100, newTestParams())
	assert.False(t, state.IsPresent())
	assert.Equal(t, NeutralScore, state.Score(100, 0))

	state = Build(newTestRatings(20), 100, newTestParams())
	assert.True(t, state.IsPresent())
	svd, ok := state.Model()
	assert.True(t, ok)
	expected, err := svd.Predict(100, 0)
	assert.NoError(t, err)
	assert.Equal(t, expected, state.Score(100, 0))
	// prediction failures resolve to the neutral score
	assert.Equal(t, NeutralScore, state.Score(999, 0))
	assert.Equal(t, NeutralScore, state.Score(100, 999))
}

func TestState_Marshal(t *testing.T) {
	buf := bytes.NewBuffer(nil)
	assert.NoError(t, Absent().Marshal(buf))
	state, err := UnmarshalState(buf)
	assert.NoError(t, err)
	assert.False(t, state.IsPresent())

	present := Build(newTestRatings(20), 100, newTestParams())
	buf.Reset()
	assert.NoError(t, present.Marshal(buf))
	state, err = UnmarshalState(buf)
	assert.NoError(t, err)
	assert.True(t, state.IsPresent())
	assert.Equal(t, present.Score(101, 3), state.Score(101, 3))

	// unknown tag
	buf.Reset()
	_, _ = buf.Write([]byte{7, 0, 0, 0, 0, 0, 0, 0})
	_, err = UnmarshalState(buf)
	assert.True(t, errors.Is(err, errors.NotValid))
}
