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
	"math"
	"regexp"
	"sort"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gorse-io/reel/base"
	"github.com/gorse-io/reel/base/encoding"
	"github.com/gorse-io/reel/dataset"
	"github.com/juju/errors"
	"github.com/samber/lo"
)

var tokenPattern = regexp.MustCompile(`[\p{L}\p{M}\p{N}_]{2,}`)

// Vectorizer converts documents to L2-normalized TF-IDF vectors.
//
//	idf(t) = ln((1 + n) / (1 + df(t))) + 1
//
// The vocabulary keeps the maxFeatures most frequent terms across the corpus and is
// indexed in alphabetical order.
type Vectorizer struct {
	MaxFeatures int
	MinNGram    int
	MaxNGram    int
	StopWords   bool

	Vocabulary []string
	IDF        []float64
	index      map[string]int
}

func NewVectorizer(maxFeatures, minNGram, maxNGram int, stopWords bool) *Vectorizer {
	return &Vectorizer{
		MaxFeatures: maxFeatures,
		MinNGram:    minNGram,
		MaxNGram:    maxNGram,
		StopWords:   stopWords,
	}
}

// Analyze splits a document into terms: lowercase word tokens of length two or more,
// stop words removed, joined into n-grams.
func (v *Vectorizer) Analyze(doc string) []string {
	tokens := tokenPattern.FindAllString(strings.ToLower(doc), -1)
	if v.StopWords {
		tokens = lo.Filter(tokens, func(token string, _ int) bool {
			return !EnglishStopWords.Contains(token)
		})
	}
	var terms []string
	for n := v.MinNGram; n <= v.MaxNGram; n++ {
		for i := 0; i+n <= len(tokens); i++ {
			terms = append(terms, strings.Join(tokens[i:i+n], " "))
		}
	}
	return terms
}

// Fit learns the vocabulary and document frequencies from a corpus.
func (v *Vectorizer) Fit(docs []string) {
	dict := dataset.NewFreqDict()
	var df []int
	for _, doc := range docs {
		seen := mapset.NewThreadUnsafeSet[int]()
		for _, term := range v.Analyze(doc) {
			id := dict.Id(term)
			if id == len(df) {
				df = append(df, 0)
			}
			if seen.Add(id) {
				df[id]++
			}
		}
	}

	// keep the most frequent terms, ties broken alphabetically
	ids := base.RangeInt(dict.Count())
	sort.Slice(ids, func(i, j int) bool {
		fi, fj := dict.Freq(ids[i]), dict.Freq(ids[j])
		if fi != fj {
			return fi > fj
		}
		si, _ := dict.String(ids[i])
		sj, _ := dict.String(ids[j])
		return si < sj
	})
	if v.MaxFeatures > 0 && len(ids) > v.MaxFeatures {
		ids = ids[:v.MaxFeatures]
	}
	type entry struct {
		term string
		df   int
	}
	entries := lo.Map(ids, func(id int, _ int) entry {
		term, _ := dict.String(id)
		return entry{term: term, df: df[id]}
	})
	sort.Slice(entries, func(i, j int) bool { return entries[i].term < entries[j].term })

	n := float64(len(docs))
	v.Vocabulary = make([]string, len(entries))
	v.IDF = make([]float64, len(entries))
	for i, e := range entries {
		v.Vocabulary[i] = e.term
		v.IDF[i] = math.Log((1+n)/(1+float64(e.df))) + 1
	}
	v.buildIndex()
}

func (v *Vectorizer) buildIndex() {
	v.index = make(map[string]int, len(v.Vocabulary))
	for i, term := range v.Vocabulary {
		v.index[term] = i
	}
}

// Transform a document to a TF-IDF vector sorted by term index. Terms outside the
// vocabulary are ignored.
func (v *Vectorizer) Transform(doc string) *base.SparseVector {
	counts := make(map[int]float64)
	for _, term := range v.Analyze(doc) {
		if i, ok := v.index[term]; ok {
			counts[i]++
		}
	}
	vec := base.NewSparseVector()
	for i, count := range counts {
		vec.Add(i, count*v.IDF[i])
	}
	vec.SortIndex()
	vec.Normalize()
	return vec
}

func (v *Vectorizer) FitTransform(docs []string) []*base.SparseVector {
	v.Fit(docs)
	return lo.Map(docs, func(doc string, _ int) *base.SparseVector {
		return v.Transform(doc)
	})
}

func (v *Vectorizer) Marshal(w io.Writer) error {
	for _, n := range []int{v.MaxFeatures, v.MinNGram, v.MaxNGram, len(v.Vocabulary)} {
		if err := encoding.WriteInt64(w, int64(n)); err != nil {
			return errors.Trace(err)
		}
	}
	if err := encoding.WriteGob(w, v.StopWords); err != nil {
		return errors.Trace(err)
	}
	for _, term := range v.Vocabulary {
		if err := encoding.WriteString(w, term); err != nil {
			return errors.Trace(err)
		}
	}
	return encoding.WriteFloats(w, v.IDF)
}

func (v *Vectorizer) Unmarshal(r io.Reader) error {
	var header [4]int64
	for i := range header {
		n, err := encoding.ReadInt64(r)
		if err != nil {
			return errors.Trace(err)
		}
		header[i] = n
	}
	v.MaxFeatures, v.MinNGram, v.MaxNGram = int(header[0]), int(header[1]), int(header[2])
	if header[3] < 0 || (v.MaxFeatures > 0 && header[3] > int64(v.MaxFeatures)) {
		return errors.NotValidf("vocabulary size %d", header[3])
	}
	if err := encoding.ReadGob(r, &v.StopWords); err != nil {
		return errors.Trace(err)
	}
	v.Vocabulary = make([]string, header[3])
	for i := range v.Vocabulary {
		term, err := encoding.ReadString(r)
		if err != nil {
			return errors.Trace(err)
		}
		v.Vocabulary[i] = term
	}
	idf, err := encoding.ReadFloats(r)
	if err != nil {
		return errors.Trace(err)
	}
	if len(idf) != len(v.Vocabulary) {
		return errors.NotValidf("idf length %d", len(idf))
	}
	v.IDF = idf
	v.buildIndex()
	return nil
}
