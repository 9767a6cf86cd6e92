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
	"sort"
)

// NotId represents an ID doesn't exist.
const NotId = -1

// SparseIdSet maps external int64 identifiers to dense positions, in insertion order.
type SparseIdSet struct {
	DenseIds  map[int64]int
	SparseIds []int64
}

// NewSparseIdSet creates a SparseIdSet.
func NewSparseIdSet() *SparseIdSet {
	return &SparseIdSet{
		DenseIds:  make(map[int64]int),
		SparseIds: make([]int64, 0),
	}
}

// Len returns the number of IDs.
func (set *SparseIdSet) Len() int {
	if set == nil {
		return 0
	}
	return len(set.SparseIds)
}

// Add adds a new ID to the ID set. Duplicates keep their first position.
func (set *SparseIdSet) Add(sparseId int64) {
	if _, exist := set.DenseIds[sparseId]; !exist {
		set.DenseIds[sparseId] = len(set.SparseIds)
		set.SparseIds = append(set.SparseIds, sparseId)
	}
}

// ToDenseId converts a sparse ID to a dense ID.
func (set *SparseIdSet) ToDenseId(sparseId int64) int {
	if set == nil {
		return NotId
	}
	if denseId, exist := set.DenseIds[sparseId]; exist {
		return denseId
	}
	return NotId
}

// ToSparseId converts a dense ID to a sparse ID.
func (set *SparseIdSet) ToSparseId(denseId int) int64 {
	return set.SparseIds[denseId]
}

// SparseVector is the data structure for the sparse vector.
type SparseVector struct {
	Indices []int
	Values  []float64
	Sorted  bool
}

// NewSparseVector creates a SparseVector.
func NewSparseVector() *SparseVector {
	return &SparseVector{
		Indices: make([]int, 0),
		Values:  make([]float64, 0),
	}
}

// Add a new item.
func (vec *SparseVector) Add(index int, value float64) {
	vec.Indices = append(vec.Indices, index)
	vec.Values = append(vec.Values, value)
	vec.Sorted = false
}

// Len returns the number of items.
func (vec *SparseVector) Len() int {
	return len(vec.Values)
}

// Less returns true if the index of i-th item is less than the index of j-th item.
func (vec *SparseVector) Less(i, j int) bool {
	return vec.Indices[i] < vec.Indices[j]
}

// Swap two items.
func (vec *SparseVector) Swap(i, j int) {
	vec.Indices[i], vec.Indices[j] = vec.Indices[j], vec.Indices[i]
	vec.Values[i], vec.Values[j] = vec.Values[j], vec.Values[i]
}

// ForEach iterates items in the sparse vector.
func (vec *SparseVector) ForEach(f func(i, index int, value float64)) {
	for i := range vec.Indices {
		f(i, vec.Indices[i], vec.Values[i])
	}
}

// SortIndex sorts items by indices.
func (vec *SparseVector) SortIndex() {
	if !vec.Sorted {
		sort.Sort(vec)
		vec.Sorted = true
	}
}

// ForIntersection iterates items in the intersection of two vectors. Both vectors must be
// sorted by SortIndex beforehand when used from multiple goroutines.
func (vec *SparseVector) ForIntersection(other *SparseVector, f func(index int, a, b float64)) {
	vec.SortIndex()
	other.SortIndex()
	i, j := 0, 0
	for i < vec.Len() && j < other.Len() {
		if vec.Indices[i] == other.Indices[j] {
			f(vec.Indices[i], vec.Values[i], other.Values[j])
			i++
			j++
		} else if vec.Indices[i] < other.Indices[j] {
			i++
		} else {
			j++
		}
	}
}

// Dot returns the inner product of two sparse vectors.
func (vec *SparseVector) Dot(other *SparseVector) float64 {
	var sum float64
	vec.ForIntersection(other, func(_ int, a, b float64) {
		sum += a * b
	})
	return sum
}

// Norm returns the euclidean norm.
func (vec *SparseVector) Norm() float64 {
	var sum float64
	for _, v := range vec.Values {
		sum += v * v
	}
	return math.Sqrt(sum)
}

// Normalize scales the vector to unit length. Zero vectors are left untouched.
func (vec *SparseVector) Normalize() {
	norm := vec.Norm()
	if norm == 0 {
		return
	}
	for i := range vec.Values {
		vec.Values[i] /= norm
	}
}
