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

package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/emicklei/go-restful/v3"
	"github.com/gorse-io/reel/logics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/steinfletcher/apitest"
	"github.com/stretchr/testify/suite"
)

type mockRecommender struct {
	mu    sync.Mutex
	calls int
}

func (m *mockRecommender) Recommend(userId int64, n int) []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	result := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		result = append(result, userId*100+int64(i))
	}
	return result
}

func (m *mockRecommender) RecommendWithScores(userId int64, n int) []logics.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	var result []logics.Record
	for i := 0; i < n; i++ {
		result = append(result, logics.Record{
			ItemID:             userId*100 + int64(i),
			ContentScore:       2,
			CollaborativeScore: 3,
			HybridScore:        2.6,
			InWatchlist:        i == 0,
		})
	}
	return result
}

func (m *mockRecommender) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type RestServerTestSuite struct {
	suite.Suite
	recommender *mockRecommender
	server      *RestServer
	handler     *restful.Container
}

func (suite *RestServerTestSuite) SetupTest() {
	suite.recommender = new(mockRecommender)
	suite.server = NewRestServer(suite.recommender, 3, 0)
	suite.handler = suite.server.Handler()
}

func (suite *RestServerTestSuite) marshal(v any) string {
	s, err := json.Marshal(v)
	suite.NoError(err)
	return string(s)
}

func (suite *RestServerTestSuite) TestRecommend() {
	t := suite.T()
	apitest.New().
		Handler(suite.handler).
		Get("/api/recommend/7").
		Query("n", "2").
		Expect(t).
		Status(http.StatusOK).
		Body(`[700, 701]`).
		End()
	// default n
	apitest.New().
		Handler(suite.handler).
		Get("/api/recommend/7").
		Expect(t).
		Status(http.StatusOK).
		Body(`[700, 701, 702]`).
		End()
	apitest.New().
		Handler(suite.handler).
		Get("/api/recommend/7").
		Query("n", "0").
		Expect(t).
		Status(http.StatusOK).
		Body(`[]`).
		End()
}

func (suite *RestServerTestSuite) TestRequestID() {
	t := suite.T()
	apitest.New().
		Handler(suite.handler).
		Get("/api/recommend/7").
		Header("X-Request-ID", "trace-me").
		Expect(t).
		Status(http.StatusOK).
		Header("X-Request-ID", "trace-me").
		End()
	apitest.New().
		Handler(suite.handler).
		Get("/api/recommend/7").
		Expect(t).
		Status(http.StatusOK).
		HeaderPresent("X-Request-ID").
		End()
}

func (suite *RestServerTestSuite) TestRecommendScores() {
	t := suite.T()
	apitest.New().
		Handler(suite.handler).
		Get("/api/recommend/1/scores").
		Query("n", "2").
		Expect(t).
		Status(http.StatusOK).
		Body(suite.marshal(suite.recommender.RecommendWithScores(1, 2))).
		End()
}

func (suite *RestServerTestSuite) TestBadRequest() {
	t := suite.T()
	for _, path := range []string{"/api/recommend/abc", "/api/recommend/abc/scores"} {
		apitest.New().
			Handler(suite.handler).
			Get(path).
			Expect(t).
			Status(http.StatusBadRequest).
			End()
	}
	for _, n := range []string{"-1", "ten"} {
		apitest.New().
			Handler(suite.handler).
			Get("/api/recommend/1").
			Query("n", n).
			Expect(t).
			Status(http.StatusBadRequest).
			End()
	}
	suite.Zero(suite.recommender.Calls())
}

func (suite *RestServerTestSuite) TestResponseCache() {
	t := suite.T()
	server := NewRestServer(suite.recommender, 3, time.Minute)
	handler := server.Handler()
	hits := testutil.ToFloat64(ResponseCacheTotal.WithLabelValues("hit"))
	for i := 0; i < 3; i++ {
		apitest.New().
			Handler(handler).
			Get("/api/recommend/2").
			Query("n", "2").
			Expect(t).
			Status(http.StatusOK).
			Body(`[200, 201]`).
			End()
	}
	suite.Equal(1, suite.recommender.Calls())
	suite.Equal(hits+2, testutil.ToFloat64(ResponseCacheTotal.WithLabelValues("hit")))

	// a different n is a different entry
	apitest.New().
		Handler(handler).
		Get("/api/recommend/2").
		Query("n", "1").
		Expect(t).
		Status(http.StatusOK).
		Body(`[200]`).
		End()
	suite.Equal(2, suite.recommender.Calls())
}

func (suite *RestServerTestSuite) TestNoResponseCache() {
	t := suite.T()
	for i := 0; i < 2; i++ {
		apitest.New().
			Handler(suite.handler).
			Get("/api/recommend/2").
			Expect(t).
			Status(http.StatusOK).
			End()
	}
	suite.Equal(2, suite.recommender.Calls())
}

func (suite *RestServerTestSuite) TestDocsAndMetrics() {
	t := suite.T()
	apitest.New().
		Handler(suite.handler).
		Get("/apidocs.json").
		Expect(t).
		Status(http.StatusOK).
		End()
	apitest.New().
		Handler(suite.handler).
		Get("/metrics").
		Expect(t).
		Status(http.StatusOK).
		End()
}

func TestRestServer(t *testing.T) {
	suite.Run(t, new(RestServerTestSuite))
}
