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

package content

import (
	"io"
	"time"

	"github.com/gorse-io/reel/base"
	"github.com/gorse-io/reel/base/encoding"
	"github.com/gorse-io/reel/base/log"
	"github.com/gorse-io/reel/common/parallel"
	"github.com/gorse-io/reel/dataset"
	"github.com/gorse-io/reel/model"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
)

// Model holds TF-IDF features of every item and their pairwise cosine similarities.
//
// Hyper-parameters:
//
//	MaxFeatures - The vocabulary size limit. Default is 5000.
//	MinNGram    - The lower bound of n-gram lengths. Default is 1.
//	MaxNGram    - The upper bound of n-gram lengths. Default is 2.
//	StopWords   - Remove english stop words. Default is true.
type Model struct {
	model.BaseModel
	Vectorizer *Vectorizer
	ItemIndex  *base.SparseIdSet
	Features   []*base.SparseVector
	// Matrix is nil for an empty catalog.
	Matrix *mat.SymDense
}

var _ model.Model = (*Model)(nil)

func NewModel(params model.Params) *Model {
	m := new(Model)
	m.SetParams(params)
	return m
}

func (m *Model) SetParams(params model.Params) {
	m.BaseModel.SetParams(params)
	m.Vectorizer = NewVectorizer(
		m.Params.GetInt(model.MaxFeatures, 5000),
		m.Params.GetInt(model.MinNGram, 1),
		m.Params.GetInt(model.MaxNGram, 2),
		m.Params.GetBool(model.StopWords, true))
}

// Fit vectorizes items and computes the similarity matrix with jobs workers. Only the
// first occurrence of a repeated item id is used.
func (m *Model) Fit(items []dataset.Item, jobs int) {
	start := time.Now()
	items = lo.UniqBy(items, func(item dataset.Item) int64 { return item.ID })
	m.ItemIndex = base.NewSparseIdSet()
	for _, item := range items {
		m.ItemIndex.Add(item.ID)
	}
	m.Features = m.Vectorizer.FitTransform(lo.Map(items, func(item dataset.Item, _ int) string {
		return item.Content()
	}))
	n := len(m.Features)
	if n == 0 {
		m.Matrix = nil
		log.Logger().Warn("fit content model with empty catalog")
		return
	}
	m.Matrix = mat.NewSymDense(n, nil)
	// each worker writes the upper triangle of its own row
	parallel.For(n, jobs, func(i int) {
		m.Matrix.SetSym(i, i, 1)
		for j := i + 1; j < n; j++ {
			m.Matrix.SetSym(i, j, cosine(m.Features[i], m.Features[j]))
		}
	})
	log.Logger().Info("fit content model complete",
		zap.Int("n_items", n),
		zap.Int("n_features", len(m.Vectorizer.Vocabulary)),
		zap.Duration("fit_time", time.Since(start)))
}

// cosine similarity of two normalized vectors, clipped to [0, 1].
func cosine(a, b *base.SparseVector) float64 {
	return max(0, min(1, a.Dot(b)))
}

// Dim returns the number of items in the similarity matrix.
func (m *Model) Dim() int {
	if m.Matrix == nil {
		return 0
	}
	return m.Matrix.SymmetricDim()
}

// Similarity between two items. False is returned if either item is not in the catalog.
func (m *Model) Similarity(a, b int64) (float64, bool) {
	i, j := m.ItemIndex.ToDenseId(a), m.ItemIndex.ToDenseId(b)
	if i == base.NotId || j == base.NotId || m.Matrix == nil {
		return 0, false
	}
	return m.Matrix.At(i, j), true
}

func (m *Model) Clear() {
	m.ItemIndex = nil
	m.Features = nil
	m.Matrix = nil
}

func (m *Model) Invalid() bool {
	return m == nil || m.ItemIndex == nil || m.Vectorizer == nil
}

// Marshal model into byte stream.
func (m *Model) Marshal(w io.Writer) error {
	if err := encoding.WriteGob(w, m.Params); err != nil {
		return errors.Trace(err)
	}
	if err := m.Vectorizer.Marshal(w); err != nil {
		return errors.Trace(err)
	}
	if err := encoding.WriteInt64s(w, m.ItemIndex.SparseIds); err != nil {
		return errors.Trace(err)
	}
	for _, vec := range m.Features {
		if err := encoding.WriteInt64s(w, lo.Map(vec.Indices, func(i int, _ int) int64 { return int64(i) })); err != nil {
			return errors.Trace(err)
		}
		if err := encoding.WriteFloats(w, vec.Values); err != nil {
			return errors.Trace(err)
		}
	}
	if m.Matrix != nil {
		return encoding.WriteFloats(w, m.Matrix.RawSymmetric().Data)
	}
	return nil
}

// Unmarshal model from byte stream.
func (m *Model) Unmarshal(r io.Reader) error {
	var params model.Params
	if err := encoding.ReadGob(r, &params); err != nil {
		return errors.Trace(err)
	}
	m.SetParams(params)
	if err := m.Vectorizer.Unmarshal(r); err != nil {
		return errors.Trace(err)
	}
	ids, err := encoding.ReadInt64s(r)
	if err != nil {
		return errors.Trace(err)
	}
	m.ItemIndex = base.NewSparseIdSet()
	for _, id := range ids {
		m.ItemIndex.Add(id)
	}
	if m.ItemIndex.Len() != len(ids) {
		return errors.NotValidf("duplicate item ids")
	}
	n := len(ids)
	m.Features = make([]*base.SparseVector, n)
	for i := range m.Features {
		indices, err := encoding.ReadInt64s(r)
		if err != nil {
			return errors.Trace(err)
		}
		values, err := encoding.ReadFloats(r)
		if err != nil {
			return errors.Trace(err)
		}
		if len(indices) != len(values) {
			return errors.NotValidf("feature vector of item %d", ids[i])
		}
		m.Features[i] = &base.SparseVector{
			Indices: lo.Map(indices, func(i int64, _ int) int { return int(i) }),
			Values:  values,
			Sorted:  true,
		}
	}
	m.Matrix = nil
	if n > 0 {
		data, err := encoding.ReadFloats(r)
		if err != nil {
			return errors.Trace(err)
		}
		if len(data) != n*n {
			return errors.NotValidf("similarity matrix of %d elements", len(data))
		}
		m.Matrix = mat.NewSymDense(n, data)
	}
	return nil
}
