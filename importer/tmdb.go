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

package importer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorse-io/reel/config"
	"github.com/juju/errors"
	"github.com/juju/ratelimit"
)

const (
	tmdbRequestTimeout = 10 * time.Second
	tmdbMaxElapsedTime = 30 * time.Second
)

// MovieDetails is the subset of a TMDB movie used by the catalog.
type MovieDetails struct {
	Overview   string `json:"overview"`
	PosterPath string `json:"poster_path"`
}

// TMDBClient fetches movie details. Requests are paced by a token bucket and transient
// failures are retried with exponential backoff.
type TMDBClient struct {
	baseURL        string
	apiKey         string
	client         *http.Client
	bucket         *ratelimit.Bucket
	maxElapsedTime time.Duration
}

func NewTMDBClient(cfg config.ImporterConfig) *TMDBClient {
	return &TMDBClient{
		baseURL:        strings.TrimSuffix(cfg.TMDBBaseURL, "/"),
		apiKey:         cfg.TMDBAPIKey,
		client:         &http.Client{Timeout: tmdbRequestTimeout},
		bucket:         ratelimit.NewBucketWithRate(cfg.TMDBRate, 1),
		maxElapsedTime: tmdbMaxElapsedTime,
	}
}

// GetMovie returns the details of a movie by its TMDB id.
func (c *TMDBClient) GetMovie(ctx context.Context, tmdbId int64) (*MovieDetails, error) {
	query := url.Values{}
	query.Set("api_key", c.apiKey)
	query.Set("language", "en-US")
	target := fmt.Sprintf("%s/movie/%d?%s", c.baseURL, tmdbId, query.Encode())

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	details, err := backoff.Retry(ctx, func() (*MovieDetails, error) {
		c.bucket.Wait(1)
		return c.get(ctx, target)
	}, backoff.WithBackOff(b), backoff.WithMaxElapsedTime(c.maxElapsedTime))
	if err != nil {
		return nil, errors.Annotatef(err, "get tmdb movie %d", tmdbId)
	}
	return details, nil
}

func (c *TMDBClient) get(ctx context.Context, target string) (*MovieDetails, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, backoff.Permanent(errors.Trace(err))
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		return nil, errors.Errorf("tmdb responded %s", resp.Status)
	case resp.StatusCode != http.StatusOK:
		return nil, backoff.Permanent(errors.Errorf("tmdb responded %s", resp.Status))
	}
	var details MovieDetails
	if err = json.NewDecoder(resp.Body).Decode(&details); err != nil {
		return nil, backoff.Permanent(errors.Annotate(err, "decode tmdb response"))
	}
	return &details, nil
}
