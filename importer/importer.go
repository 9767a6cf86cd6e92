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
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/go-playground/validator/v10"
	"github.com/gorse-io/reel/base/log"
	"github.com/gorse-io/reel/common/parallel"
	"github.com/gorse-io/reel/config"
	"github.com/gorse-io/reel/dataset"
	"github.com/gorse-io/reel/storage/data"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

const (
	MoviesFile    = "movies.csv"
	LinksFile     = "links.csv"
	RatingsFile   = "ratings.csv"
	WatchlistFile = "watchlist.csv"

	progressThrottle = 100 * time.Millisecond
)

// Summary counts imported and skipped rows.
type Summary struct {
	Movies           int
	SkippedMovies    int
	Ratings          int
	SkippedRatings   int
	Watchlist        int
	SkippedWatchlist int
}

// Importer loads a MovieLens dump into the database. Movies keep their MovieLens ids so
// ratings and watchlist rows join on movieId.
type Importer struct {
	config   config.ImporterConfig
	database data.Database
	tmdb     *TMDBClient
	validate *validator.Validate
	progress io.Writer
}

type ratingRow struct {
	UserID    int64     `validate:"gte=0"`
	MovieID   int64     `validate:"gt=0"`
	Value     float64   `validate:"gte=1,lte=5,half_step"`
	Timestamp time.Time `validate:"required"`
}

type watchlistRow struct {
	UserID  int64 `validate:"gte=0"`
	MovieID int64 `validate:"gt=0"`
	AddedAt time.Time
}

// NewImporter creates an importer. Overviews are fetched from TMDB only when an API key
// is configured.
func NewImporter(cfg config.ImporterConfig, database data.Database) *Importer {
	im := &Importer{
		config:   cfg,
		database: database,
		validate: validator.New(),
		progress: io.Discard,
	}
	if cfg.TMDBAPIKey != "" {
		im.tmdb = NewTMDBClient(cfg)
	}
	if err := im.validate.RegisterValidation("half_step", func(fl validator.FieldLevel) bool {
		v := fl.Field().Float() * 2
		return v == math.Trunc(v)
	}); err != nil {
		panic(err)
	}
	return im
}

// SetProgress sets where progress bars are drawn. They are discarded by default.
func (im *Importer) SetProgress(w io.Writer) {
	im.progress = w
}

// Import reads movies, links, ratings and the optional watchlist from a directory.
func (im *Importer) Import(ctx context.Context, dir string) (Summary, error) {
	var summary Summary
	movies, err := im.ImportMovies(ctx, filepath.Join(dir, MoviesFile), filepath.Join(dir, LinksFile), &summary)
	if err != nil {
		return summary, errors.Trace(err)
	}
	if err = im.ImportRatings(ctx, filepath.Join(dir, RatingsFile), movies, &summary); err != nil {
		return summary, errors.Trace(err)
	}
	watchlistPath := filepath.Join(dir, WatchlistFile)
	if _, err = os.Stat(watchlistPath); err == nil {
		if err = im.ImportWatchlist(ctx, watchlistPath, movies, &summary); err != nil {
			return summary, errors.Trace(err)
		}
	} else if !os.IsNotExist(err) {
		return summary, errors.Trace(err)
	}
	log.Logger().Info("import complete",
		zap.Int("n_movies", summary.Movies),
		zap.Int("n_skipped_movies", summary.SkippedMovies),
		zap.Int("n_ratings", summary.Ratings),
		zap.Int("n_skipped_ratings", summary.SkippedRatings),
		zap.Int("n_watchlist", summary.Watchlist),
		zap.Int("n_skipped_watchlist", summary.SkippedWatchlist))
	return summary, nil
}

func (im *Importer) readLinks(path string) (map[int64]int64, error) {
	links, err := openCSV(path, im.progress, "movieId", "tmdbId")
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer links.Close()
	mapping := make(map[int64]int64)
	for {
		row, err := links.Next()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, errors.Annotatef(err, "read %s", path)
		}
		movieId, err := strconv.ParseInt(row.Get("movieId"), 10, 64)
		if err != nil {
			continue
		}
		tmdbId, err := strconv.ParseInt(row.Get("tmdbId"), 10, 64)
		if err != nil {
			continue
		}
		mapping[movieId] = tmdbId
	}
	return mapping, nil
}

// ImportMovies imports movies that have a TMDB link, at most max_movies of them. It returns
// the ids of imported movies.
func (im *Importer) ImportMovies(ctx context.Context, moviesPath, linksPath string, summary *Summary) (mapset.Set[int64], error) {
	links, err := im.readLinks(linksPath)
	if err != nil {
		return nil, errors.Trace(err)
	}
	movies, err := openCSV(moviesPath, im.progress, "movieId", "title", "genres")
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer movies.Close()

	seen := mapset.NewThreadUnsafeSet[int64]()
	imported := mapset.NewThreadUnsafeSet[int64]()
	pending := make([]dataset.Item, 0, im.config.BatchSize)
	flush := func() error {
		items, err := im.fetchOverviews(ctx, pending)
		if err != nil {
			return errors.Trace(err)
		}
		if err = im.database.BatchInsertItems(ctx, items); err != nil {
			return errors.Annotate(err, "insert movies")
		}
		for _, item := range items {
			imported.Add(item.ID)
		}
		summary.Movies += len(items)
		summary.SkippedMovies += len(pending) - len(items)
		pending = pending[:0]
		return nil
	}
	for {
		// movies failing to fetch free their slots, so the cap is checked after each flush
		if im.config.MaxMovies > 0 && imported.Cardinality()+len(pending) >= im.config.MaxMovies {
			if len(pending) == 0 {
				break
			}
			if err = flush(); err != nil {
				return nil, err
			}
			continue
		}
		row, err := movies.Next()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, errors.Annotatef(err, "read %s", moviesPath)
		}
		movieId, err := strconv.ParseInt(row.Get("movieId"), 10, 64)
		if err != nil || seen.Contains(movieId) {
			summary.SkippedMovies++
			continue
		}
		tmdbId, ok := links[movieId]
		if !ok {
			summary.SkippedMovies++
			continue
		}
		seen.Add(movieId)
		pending = append(pending, dataset.Item{
			ID:         movieId,
			Title:      row.Get("title"),
			Genres:     row.Get("genres"),
			Year:       ParseYear(row.Get("title")),
			ExternalID: tmdbId,
		})
		if len(pending) >= im.config.BatchSize {
			if err = flush(); err != nil {
				return nil, err
			}
		}
	}
	if err = flush(); err != nil {
		return nil, err
	}
	return imported, nil
}

// fetchOverviews fills overviews from TMDB. Movies whose details cannot be fetched are
// dropped.
func (im *Importer) fetchOverviews(ctx context.Context, items []dataset.Item) ([]dataset.Item, error) {
	if im.tmdb == nil || len(items) == 0 {
		return items, nil
	}
	fetched := make([]bool, len(items))
	err := parallel.Parallel(ctx, len(items), im.config.TMDBJobs, func(_, i int) error {
		details, err := im.tmdb.GetMovie(ctx, items[i].ExternalID)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Logger().Warn("failed to fetch movie details, skip movie",
				zap.Int64("movie_id", items[i].ID), zap.Int64("tmdb_id", items[i].ExternalID), zap.Error(err))
			return nil
		}
		items[i].Overview = details.Overview
		fetched[i] = true
		return nil
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	return lo.Filter(items, func(_ dataset.Item, i int) bool {
		return fetched[i]
	}), nil
}

// ImportRatings imports valid ratings of imported movies. The line number becomes the
// rating id so that importing the same file twice inserts nothing new.
func (im *Importer) ImportRatings(ctx context.Context, path string, movies mapset.Set[int64], summary *Summary) error {
	ratings, err := openCSV(path, im.progress, "userId", "movieId", "rating", "timestamp")
	if err != nil {
		return errors.Trace(err)
	}
	defer ratings.Close()

	batch := make([]dataset.Rating, 0, im.config.BatchSize)
	flush := func() error {
		if err := im.database.BatchInsertRatings(ctx, batch); err != nil {
			return errors.Annotate(err, "insert ratings")
		}
		batch = batch[:0]
		return nil
	}
	for {
		row, err := ratings.Next()
		if err == io.EOF {
			break
		} else if err != nil {
			return errors.Annotatef(err, "read %s", path)
		}
		rating, err := im.parseRating(row)
		if err != nil {
			log.Logger().Debug("skip invalid rating", zap.Int("line", row.line), zap.Error(err))
			summary.SkippedRatings++
			continue
		}
		if !movies.Contains(rating.MovieID) {
			summary.SkippedRatings++
			continue
		}
		batch = append(batch, dataset.Rating{
			ID:        int64(row.line),
			UserID:    rating.UserID,
			ItemID:    rating.MovieID,
			Value:     rating.Value,
			Timestamp: rating.Timestamp,
		})
		summary.Ratings++
		if len(batch) >= im.config.BatchSize {
			if err = flush(); err != nil {
				return err
			}
		}
	}
	return flush()
}

func (im *Importer) parseRating(row csvRow) (rating ratingRow, err error) {
	if rating.UserID, err = strconv.ParseInt(row.Get("userId"), 10, 64); err != nil {
		return rating, errors.Trace(err)
	}
	if rating.MovieID, err = strconv.ParseInt(row.Get("movieId"), 10, 64); err != nil {
		return rating, errors.Trace(err)
	}
	if rating.Value, err = strconv.ParseFloat(row.Get("rating"), 64); err != nil {
		return rating, errors.Trace(err)
	}
	if rating.Timestamp, err = ParseTimestamp(row.Get("timestamp")); err != nil {
		return rating, errors.Trace(err)
	}
	return rating, errors.Trace(im.validate.Struct(rating))
}

// ImportWatchlist imports watchlist entries of imported movies.
func (im *Importer) ImportWatchlist(ctx context.Context, path string, movies mapset.Set[int64], summary *Summary) error {
	watchlist, err := openCSV(path, im.progress, "userId", "movieId")
	if err != nil {
		return errors.Trace(err)
	}
	defer watchlist.Close()

	var entries []dataset.WatchlistEntry
	for {
		row, err := watchlist.Next()
		if err == io.EOF {
			break
		} else if err != nil {
			return errors.Annotatef(err, "read %s", path)
		}
		entry, err := im.parseWatchlist(row)
		if err != nil || !movies.Contains(entry.MovieID) {
			summary.SkippedWatchlist++
			continue
		}
		entries = append(entries, dataset.WatchlistEntry{
			ID:      int64(row.line),
			UserID:  entry.UserID,
			ItemID:  entry.MovieID,
			AddedAt: entry.AddedAt,
		})
		summary.Watchlist++
	}
	for begin := 0; begin < len(entries); begin += im.config.BatchSize {
		end := min(begin+im.config.BatchSize, len(entries))
		if err = im.database.BatchInsertWatchlist(ctx, entries[begin:end]); err != nil {
			return errors.Annotate(err, "insert watchlist")
		}
	}
	return nil
}

func (im *Importer) parseWatchlist(row csvRow) (entry watchlistRow, err error) {
	if entry.UserID, err = strconv.ParseInt(row.Get("userId"), 10, 64); err != nil {
		return entry, errors.Trace(err)
	}
	if entry.MovieID, err = strconv.ParseInt(row.Get("movieId"), 10, 64); err != nil {
		return entry, errors.Trace(err)
	}
	if addedAt := row.Get("addedAt"); addedAt != "" {
		if entry.AddedAt, err = ParseTimestamp(addedAt); err != nil {
			return entry, errors.Trace(err)
		}
	}
	return entry, errors.Trace(im.validate.Struct(entry))
}

// ParseTimestamp parses unix seconds or any date format known to dateparse. Times are UTC.
func ParseTimestamp(s string) (time.Time, error) {
	if seconds, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(seconds, 0).UTC(), nil
	}
	t, err := dateparse.ParseIn(s, time.UTC)
	if err != nil {
		return time.Time{}, errors.Trace(err)
	}
	return t.UTC(), nil
}

// ParseYear extracts the release year from a title like "Heat (1995)". It returns 0 if
// the title has no year.
func ParseYear(title string) int {
	title = strings.TrimSpace(title)
	if !strings.HasSuffix(title, ")") {
		return 0
	}
	begin := strings.LastIndex(title, "(")
	if begin < 0 {
		return 0
	}
	s := title[begin+1 : len(title)-1]
	if len(s) != 4 {
		return 0
	}
	year, err := strconv.Atoi(s)
	if err != nil || year < 0 {
		return 0
	}
	return year
}
