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
	"fmt"
	"net/http"
	"strconv"
	"time"

	restfulspec "github.com/emicklei/go-restful-openapi/v2"
	"github.com/emicklei/go-restful/v3"
	"github.com/google/uuid"
	"github.com/gorse-io/reel/base/log"
	"github.com/gorse-io/reel/logics"
	"github.com/jellydator/ttlcache/v3"
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/emicklei/go-restful/otelrestful"
	"go.uber.org/zap"
)

const (
	routeRecommend = "recommend"
	routeScores    = "scores"
)

// Recommender is the read side of the engine used by the REST API.
type Recommender interface {
	Recommend(userId int64, n int) []int64
	RecommendWithScores(userId int64, n int) []logics.Record
}

// RestServer implements a REST-ful API server.
type RestServer struct {
	Recommender Recommender
	DefaultN    int
	WebService  *restful.WebService
	cache       *ttlcache.Cache[string, any]
}

// NewRestServer creates the API server. Responses are memoised for cacheTTL, a zero TTL
// disables the response cache.
func NewRestServer(recommender Recommender, defaultN int, cacheTTL time.Duration) *RestServer {
	s := &RestServer{
		Recommender: recommender,
		DefaultN:    defaultN,
		WebService:  new(restful.WebService),
	}
	if cacheTTL > 0 {
		s.cache = ttlcache.New(
			ttlcache.WithTTL[string, any](cacheTTL),
			ttlcache.WithDisableTouchOnHit[string, any]())
	}
	s.CreateWebService()
	return s
}

// Handler returns a container serving the API, its OpenAPI document and metrics.
func (s *RestServer) Handler() *restful.Container {
	container := restful.NewContainer()
	container.Add(s.WebService)
	container.Add(restfulspec.NewOpenAPIService(restfulspec.Config{
		WebServices: container.RegisteredWebServices(),
		APIPath:     "/apidocs.json",
	}))
	container.Handle("/metrics", promhttp.Handler())
	return container
}

// StartCache starts evicting expired responses. It blocks until StopCache is called.
func (s *RestServer) StartCache() {
	if s.cache != nil {
		s.cache.Start()
	}
}

func (s *RestServer) StopCache() {
	if s.cache != nil {
		s.cache.Stop()
	}
}

// LogFilter tags every response with a request id and logs it once it is served.
func LogFilter(req *restful.Request, resp *restful.Response, chain *restful.FilterChain) {
	requestId := req.HeaderParameter("X-Request-ID")
	if requestId == "" {
		requestId = uuid.NewString()
	}
	resp.Header().Set("X-Request-ID", requestId)
	chain.ProcessFilter(req, resp)
	RequestsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode())).Inc()
	log.ResponseLogger(resp).Info(fmt.Sprintf("%s %s", req.Request.Method, req.Request.URL),
		zap.Int("status_code", resp.StatusCode()))
}

// CreateWebService creates web service.
func (s *RestServer) CreateWebService() {
	ws := s.WebService
	ws.Consumes(restful.MIME_JSON).Produces(restful.MIME_JSON)
	ws.Path("/api/")
	ws.Filter(LogFilter)
	ws.Filter(otelrestful.OTelFilter("reel"))

	ws.Route(ws.GET("/recommend/{user-id}").To(s.getRecommend).
		Doc("Get recommended movies for a user.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"recommendation"}).
		Param(ws.PathParameter("user-id", "ID of the user").DataType("integer")).
		Param(ws.QueryParameter("n", "Number of returned movies").DataType("integer")).
		Returns(http.StatusOK, "OK", []int64{}).
		Writes([]int64{}))
	ws.Route(ws.GET("/recommend/{user-id}/scores").To(s.getRecommendScores).
		Doc("Get recommended movies for a user with the breakdown of their scores.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"recommendation"}).
		Param(ws.PathParameter("user-id", "ID of the user").DataType("integer")).
		Param(ws.QueryParameter("n", "Number of returned movies").DataType("integer")).
		Returns(http.StatusOK, "OK", []logics.Record{}).
		Writes([]logics.Record{}))
}

// ParseInt parses an integer query parameter. A missing parameter falls back to the default.
func ParseInt(request *restful.Request, name string, fallback int) (value int, err error) {
	valueString := request.QueryParameter(name)
	value, err = strconv.Atoi(valueString)
	if err != nil && valueString == "" {
		value = fallback
		err = nil
	}
	return
}

func (s *RestServer) parseRequest(request *restful.Request) (userId int64, n int, err error) {
	userId, err = strconv.ParseInt(request.PathParameter("user-id"), 10, 64)
	if err != nil {
		return 0, 0, errors.NotValidf("user id %q", request.PathParameter("user-id"))
	}
	if n, err = ParseInt(request, "n", s.DefaultN); err != nil {
		return 0, 0, errors.NotValidf("n %q", request.QueryParameter("n"))
	}
	if n < 0 {
		return 0, 0, errors.NotValidf("negative n %d", n)
	}
	return userId, n, nil
}

func (s *RestServer) getRecommend(request *restful.Request, response *restful.Response) {
	userId, n, err := s.parseRequest(request)
	if err != nil {
		BadRequest(response, err)
		return
	}
	start := time.Now()
	result := s.cached(fmt.Sprintf("%s/%d/%d", routeRecommend, userId, n), func() any {
		return s.Recommender.Recommend(userId, n)
	})
	GetRecommendSeconds.WithLabelValues(routeRecommend).Observe(time.Since(start).Seconds())
	Ok(response, result)
}

func (s *RestServer) getRecommendScores(request *restful.Request, response *restful.Response) {
	userId, n, err := s.parseRequest(request)
	if err != nil {
		BadRequest(response, err)
		return
	}
	start := time.Now()
	result := s.cached(fmt.Sprintf("%s/%d/%d", routeScores, userId, n), func() any {
		return s.Recommender.RecommendWithScores(userId, n)
	})
	GetRecommendSeconds.WithLabelValues(routeScores).Observe(time.Since(start).Seconds())
	Ok(response, result)
}

// cached returns the memoised response for key or computes it. Models never change while
// the server runs so entries only expire by TTL.
func (s *RestServer) cached(key string, compute func() any) any {
	if s.cache == nil {
		return compute()
	}
	if item := s.cache.Get(key); item != nil {
		ResponseCacheTotal.WithLabelValues("hit").Inc()
		return item.Value()
	}
	ResponseCacheTotal.WithLabelValues("miss").Inc()
	value := compute()
	s.cache.Set(key, value, ttlcache.DefaultTTL)
	return value
}

// BadRequest returns a bad request error.
func BadRequest(response *restful.Response, err error) {
	response.Header().Set("Access-Control-Allow-Origin", "*")
	log.ResponseLogger(response).Error("bad request", zap.Error(err))
	if err = response.WriteError(http.StatusBadRequest, err); err != nil {
		log.ResponseLogger(response).Error("failed to write error", zap.Error(err))
	}
}

// Ok sends the content as JSON to the client.
func Ok(response *restful.Response, content any) {
	response.Header().Set("Access-Control-Allow-Origin", "*")
	if err := response.WriteAsJson(content); err != nil {
		log.ResponseLogger(response).Error("failed to write json", zap.Error(err))
	}
}
