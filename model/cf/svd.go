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
	"fmt"
	"io"
	"math"
	"time"

	"github.com/bits-and-blooms/bitset"
	"github.com/gorse-io/reel/base"
	"github.com/gorse-io/reel/base/encoding"
	"github.com/gorse-io/reel/base/log"
	"github.com/gorse-io/reel/dataset"
	"github.com/gorse-io/reel/model"
	"github.com/juju/errors"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
)

const (
	MinRating = 1.0
	MaxRating = 5.0
)

var (
	ErrUnknownUser = errors.NotFoundf("user")
	ErrUnknownItem = errors.NotFoundf("item")
)

// SVD is the biased matrix factorization model for explicit ratings. The rating of
// user u to item i is estimated by:
//
//	r_ui = mu + b_u + b_i + q_i^T p_u
//
// Hyper-parameters:
//
//	NFactors   - The number of latent factors. Default is 50.
//	NEpochs    - The number of iteration of the SGD procedure. Default is 20.
//	Lr         - The learning rate of SGD. Default is 0.005.
//	Reg        - The regularization parameter of the cost function. Default is 0.02.
//	InitMean   - The mean of initial random latent factors. Default is 0.
//	InitStdDev - The standard deviation of initial random latent factors. Default is 0.1.
//	TestRatio  - The ratio of ratings held out from training. Default is 0.2.
type SVD struct {
	model.BaseModel
	UserIndex       *base.SparseIdSet
	ItemIndex       *base.SparseIdSet
	UserPredictable *bitset.BitSet
	ItemPredictable *bitset.BitSet
	// Model parameters
	GlobalMean float64
	UserBias   []float64   // b_u
	ItemBias   []float64   // b_i
	UserFactor [][]float64 // p_u
	ItemFactor [][]float64 // q_i
	// Hyper parameters
	nFactors   int
	nEpochs    int
	lr         float64
	reg        float64
	initMean   float64
	initStdDev float64
	testRatio  float64
}

var _ model.Model = (*SVD)(nil)

// NewSVD creates a SVD model.
func NewSVD(params model.Params) *SVD {
	svd := new(SVD)
	svd.SetParams(params)
	return svd
}

// SetParams sets hyper-parameters of the SVD model.
func (svd *SVD) SetParams(params model.Params) {
	svd.BaseModel.SetParams(params)
	svd.nFactors = svd.Params.GetInt(model.NFactors, 50)
	svd.nEpochs = svd.Params.GetInt(model.NEpochs, 20)
	svd.lr = svd.Params.GetFloat64(model.Lr, 0.005)
	svd.reg = svd.Params.GetFloat64(model.Reg, 0.02)
	svd.initMean = svd.Params.GetFloat64(model.InitMean, 0)
	svd.initStdDev = svd.Params.GetFloat64(model.InitStdDev, 0.1)
	svd.testRatio = svd.Params.GetFloat64(model.TestRatio, 0.2)
}

// Split shuffles rating positions and returns (train, test). The test part has
// ceil(testRatio * n) positions.
func (svd *SVD) Split(n int) ([]int, []int) {
	perm := svd.GetRandomGenerator().Perm(n)
	testSize := int(math.Ceil(svd.testRatio * float64(n)))
	return perm[testSize:], perm[:testSize]
}

// Init indexes every user and item of the ratings and marks those seen in training
// as predictable.
func (svd *SVD) Init(ratings []dataset.Rating, train []int) {
	svd.UserIndex = base.NewSparseIdSet()
	svd.ItemIndex = base.NewSparseIdSet()
	for _, rating := range ratings {
		svd.UserIndex.Add(rating.UserID)
		svd.ItemIndex.Add(rating.ItemID)
	}
	svd.UserPredictable = bitset.New(uint(svd.UserIndex.Len()))
	svd.ItemPredictable = bitset.New(uint(svd.ItemIndex.Len()))
	for _, i := range train {
		svd.UserPredictable.Set(uint(svd.UserIndex.ToDenseId(ratings[i].UserID)))
		svd.ItemPredictable.Set(uint(svd.ItemIndex.ToDenseId(ratings[i].ItemID)))
	}
	rng := svd.GetRandomGenerator()
	svd.UserFactor = rng.NormalMatrix(svd.UserIndex.Len(), svd.nFactors, svd.initMean, svd.initStdDev)
	svd.ItemFactor = rng.NormalMatrix(svd.ItemIndex.Len(), svd.nFactors, svd.initMean, svd.initStdDev)
	svd.UserBias = make([]float64, svd.UserIndex.Len())
	svd.ItemBias = make([]float64, svd.ItemIndex.Len())
}

// Fit the SVD model by SGD. Held out ratings are never visited.
func (svd *SVD) Fit(ratings []dataset.Rating) {
	train, test := svd.Split(len(ratings))
	log.Logger().Info("fit svd",
		zap.Int("train_set_size", len(train)),
		zap.Int("test_set_size", len(test)),
		zap.String("params", svd.Params.ToString()))
	svd.Init(ratings, train)
	svd.GlobalMean = 0
	for _, i := range train {
		svd.GlobalMean += ratings[i].Value
	}
	if len(train) > 0 {
		svd.GlobalMean /= float64(len(train))
	}
	userFactor := make([]float64, svd.nFactors)
	for epoch := 1; epoch <= svd.nEpochs; epoch++ {
		fitStart := time.Now()
		var cost float64
		for _, i := range train {
			u := svd.UserIndex.ToDenseId(ratings[i].UserID)
			j := svd.ItemIndex.ToDenseId(ratings[i].ItemID)
			diff := ratings[i].Value - svd.internalPredict(u, j)
			cost += diff * diff
			// Update biases
			svd.UserBias[u] += svd.lr * (diff - svd.reg*svd.UserBias[u])
			svd.ItemBias[j] += svd.lr * (diff - svd.reg*svd.ItemBias[j])
			// Update latent factors: p_u += lr (e q_i - reg p_u), q_i += lr (e p_u - reg q_i)
			copy(userFactor, svd.UserFactor[u])
			floats.Scale(1-svd.lr*svd.reg, svd.UserFactor[u])
			floats.AddScaled(svd.UserFactor[u], svd.lr*diff, svd.ItemFactor[j])
			floats.Scale(1-svd.lr*svd.reg, svd.ItemFactor[j])
			floats.AddScaled(svd.ItemFactor[j], svd.lr*diff, userFactor)
		}
		log.Logger().Debug(fmt.Sprintf("fit svd %v/%v", epoch, svd.nEpochs),
			zap.String("fit_time", time.Since(fitStart).String()),
			zap.Float64("train_rmse", math.Sqrt(cost/math.Max(1, float64(len(train))))))
	}
	log.Logger().Info("fit svd complete",
		zap.Int("n_users", svd.UserIndex.Len()),
		zap.Int("n_items", svd.ItemIndex.Len()))
}

func (svd *SVD) internalPredict(userIndex, itemIndex int) float64 {
	return svd.GlobalMean + svd.UserBias[userIndex] + svd.ItemBias[itemIndex] +
		floats.Dot(svd.UserFactor[userIndex], svd.ItemFactor[itemIndex])
}

// IsUserPredictable returns false if user has no training rating and its latent factor never be trained.
func (svd *SVD) IsUserPredictable(userIndex int) bool {
	if userIndex < 0 || userIndex >= svd.UserIndex.Len() {
		return false
	}
	return svd.UserPredictable.Test(uint(userIndex))
}

// IsItemPredictable returns false if item has no training rating and its latent factor never be trained.
func (svd *SVD) IsItemPredictable(itemIndex int) bool {
	if itemIndex < 0 || itemIndex >= svd.ItemIndex.Len() {
		return false
	}
	return svd.ItemPredictable.Test(uint(itemIndex))
}

// Predict the rating given by a user to an item, clipped to [MinRating, MaxRating].
func (svd *SVD) Predict(userId, itemId int64) (float64, error) {
	userIndex := svd.UserIndex.ToDenseId(userId)
	if !svd.IsUserPredictable(userIndex) {
		return 0, errors.Annotatef(ErrUnknownUser, "%d", userId)
	}
	itemIndex := svd.ItemIndex.ToDenseId(itemId)
	if !svd.IsItemPredictable(itemIndex) {
		return 0, errors.Annotatef(ErrUnknownItem, "%d", itemId)
	}
	return max(MinRating, min(MaxRating, svd.internalPredict(userIndex, itemIndex))), nil
}

func (svd *SVD) Clear() {
	svd.UserIndex = nil
	svd.ItemIndex = nil
	svd.UserFactor = nil
	svd.ItemFactor = nil
	svd.UserBias = nil
	svd.ItemBias = nil
}

func (svd *SVD) Invalid() bool {
	return svd == nil ||
		svd.UserIndex == nil ||
		svd.ItemIndex == nil ||
		svd.UserFactor == nil ||
		svd.ItemFactor == nil
}

// Marshal model into byte stream.
func (svd *SVD) Marshal(w io.Writer) error {
	if err := encoding.WriteGob(w, svd.Params); err != nil {
		return errors.Trace(err)
	}
	if err := encoding.WriteFloats(w, []float64{svd.GlobalMean}); err != nil {
		return errors.Trace(err)
	}
	for _, side := range []struct {
		index       *base.SparseIdSet
		predictable *bitset.BitSet
		bias        []float64
		factor      [][]float64
	}{
		{svd.UserIndex, svd.UserPredictable, svd.UserBias, svd.UserFactor},
		{svd.ItemIndex, svd.ItemPredictable, svd.ItemBias, svd.ItemFactor},
	} {
		if err := encoding.WriteInt64s(w, side.index.SparseIds); err != nil {
			return errors.Trace(err)
		}
		if _, err := side.predictable.WriteTo(w); err != nil {
			return errors.Trace(err)
		}
		if err := encoding.WriteFloats(w, side.bias); err != nil {
			return errors.Trace(err)
		}
		if err := encoding.WriteMatrix(w, side.factor); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// Unmarshal model from byte stream.
func (svd *SVD) Unmarshal(r io.Reader) error {
	var params model.Params
	if err := encoding.ReadGob(r, &params); err != nil {
		return errors.Trace(err)
	}
	svd.SetParams(params)
	mean, err := encoding.ReadFloats(r)
	if err != nil {
		return errors.Trace(err)
	}
	if len(mean) != 1 {
		return errors.NotValidf("global mean")
	}
	svd.GlobalMean = mean[0]
	if svd.UserIndex, svd.UserPredictable, svd.UserBias, svd.UserFactor, err = svd.readSide(r); err != nil {
		return errors.Annotate(err, "users")
	}
	if svd.ItemIndex, svd.ItemPredictable, svd.ItemBias, svd.ItemFactor, err = svd.readSide(r); err != nil {
		return errors.Annotate(err, "items")
	}
	return nil
}

func (svd *SVD) readSide(r io.Reader) (*base.SparseIdSet, *bitset.BitSet, []float64, [][]float64, error) {
	ids, err := encoding.ReadInt64s(r)
	if err != nil {
		return nil, nil, nil, nil, errors.Trace(err)
	}
	index := base.NewSparseIdSet()
	for _, id := range ids {
		index.Add(id)
	}
	if index.Len() != len(ids) {
		return nil, nil, nil, nil, errors.NotValidf("duplicate ids")
	}
	predictable := new(bitset.BitSet)
	if _, err = predictable.ReadFrom(r); err != nil {
		return nil, nil, nil, nil, errors.Trace(err)
	}
	bias, err := encoding.ReadFloats(r)
	if err != nil {
		return nil, nil, nil, nil, errors.Trace(err)
	}
	if len(bias) != len(ids) {
		return nil, nil, nil, nil, errors.NotValidf("bias length %d", len(bias))
	}
	factor := make([][]float64, len(ids))
	for i := range factor {
		factor[i] = make([]float64, svd.nFactors)
	}
	if err = encoding.ReadMatrix(r, factor); err != nil {
		return nil, nil, nil, nil, errors.Trace(err)
	}
	return index, predictable, bias, factor, nil
}
