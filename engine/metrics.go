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

package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	StepLoadSnapshots = "load_snapshots"
	StepContent       = "content"
	StepCollaborative = "collaborative"

	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheStale = "stale"

	PathColdStart = "cold_start"
	PathHybrid    = "hybrid"
)

var (
	BuildSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "reel",
		Subsystem: "engine",
		Name:      "build_seconds",
		Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
	}, []string{"step"})
	CacheResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reel",
		Subsystem: "engine",
		Name:      "cache_results_total",
	}, []string{"kind", "result"})
	RecommendTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reel",
		Subsystem: "engine",
		Name:      "recommend_total",
	}, []string{"path"})
	RecommendSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "reel",
		Subsystem: "engine",
		Name:      "recommend_seconds",
	}, []string{"path"})
)
