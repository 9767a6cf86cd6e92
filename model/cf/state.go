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
	"io"

	"github.com/gorse-io/reel/base/encoding"
	"github.com/gorse-io/reel/base/log"
	"github.com/gorse-io/reel/dataset"
	"github.com/gorse-io/reel/model"
	"github.com/juju/errors"
	"go.uber.org/zap"
)

// NeutralScore is the collaborative score used whenever no prediction is available.
const NeutralScore = 3.0

const (
	tagAbsent  int64 = 0
	tagPresent int64 = 1
)

// State is either Present with a trained model or Absent.
type State struct {
	svd *SVD
}

func Present(svd *SVD) State {
	return State{svd: svd}
}

func Absent() State {
	return State{}
}

func (s State) IsPresent() bool {
	return s.svd != nil
}

// Model returns the trained model of a Present state.
func (s State) Model() (*SVD, bool) {
	return s.svd, s.svd != nil
}

// Score returns the predicted rating, or NeutralScore if the state is Absent or the
// prediction fails.
func (s State) Score(userId, itemId int64) float64 {
	if !s.IsPresent() {
		return NeutralScore
	}
	score, err := s.svd.Predict(userId, itemId)
	if err != nil {
		return NeutralScore
	}
	return score
}

// Build trains a model unless there are fewer than minRatings ratings.
func Build(ratings []dataset.Rating, minRatings int, params model.Params) State {
	if len(ratings) < minRatings {
		log.Logger().Warn("too few ratings to train collaborative model",
			zap.Int("n_ratings", len(ratings)),
			zap.Int("min_ratings", minRatings))
		return Absent()
	}
	svd := NewSVD(params)
	svd.Fit(ratings)
	return Present(svd)
}

func (s State) Marshal(w io.Writer) error {
	if !s.IsPresent() {
		return encoding.WriteInt64(w, tagAbsent)
	}
	if err := encoding.WriteInt64(w, tagPresent); err != nil {
		return errors.Trace(err)
	}
	return s.svd.Marshal(w)
}

func UnmarshalState(r io.Reader) (State, error) {
	tag, err := encoding.ReadInt64(r)
	if err != nil {
		return State{}, errors.Trace(err)
	}
	switch tag {
	case tagAbsent:
		return Absent(), nil
	case tagPresent:
		svd := new(SVD)
		if err = svd.Unmarshal(r); err != nil {
			return State{}, errors.Trace(err)
		}
		if svd.Invalid() {
			return State{}, errors.NotValidf("collaborative model")
		}
		return Present(svd), nil
	}
	return State{}, errors.NotValidf("model state %d", tag)
}
