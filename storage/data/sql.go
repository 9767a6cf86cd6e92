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

package data

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/gorse-io/reel/dataset"
	"github.com/gorse-io/reel/storage"
	"github.com/juju/errors"
	_ "github.com/lib/pq"
	"github.com/samber/lo"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	_ "modernc.org/sqlite"
)

type SQLDriver int

const (
	MySQL SQLDriver = iota
	Postgres
	SQLite
)

type SQLItem struct {
	ItemID   int64  `gorm:"column:item_id;primaryKey;autoIncrement:false"`
	Title    string `gorm:"column:title;type:varchar(256);not null"`
	Genres   string `gorm:"column:genres;type:varchar(256);not null"`
	Overview string `gorm:"column:overview;type:text;not null"`
	Year     int    `gorm:"column:release_year;not null"`
	TMDBID   int64  `gorm:"column:tmdb_id;not null"`
}

type SQLRating struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement"`
	UserID    int64     `gorm:"column:user_id;not null;index"`
	ItemID    int64     `gorm:"column:item_id;not null;index"`
	Value     float64   `gorm:"column:rating;not null"`
	Timestamp time.Time `gorm:"column:time_stamp;not null"`
}

type SQLWatchlist struct {
	ID      int64     `gorm:"column:id;primaryKey;autoIncrement"`
	UserID  int64     `gorm:"column:user_id;not null;uniqueIndex:user_item"`
	ItemID  int64     `gorm:"column:item_id;not null;uniqueIndex:user_item"`
	AddedAt time.Time `gorm:"column:added_at;not null"`
}

// SQLDatabase stores snapshots in MySQL, Postgres or SQLite through GORM.
type SQLDatabase struct {
	storage.TablePrefix
	gormDB *gorm.DB
	client *sql.DB
	driver SQLDriver
}

// Init tables and indices.
func (d *SQLDatabase) Init() error {
	db := d.gormDB
	if d.driver == MySQL {
		db = db.Set("gorm:table_options", "ENGINE=InnoDB")
	}
	return errors.Trace(db.AutoMigrate(&SQLItem{}, &SQLRating{}, &SQLWatchlist{}))
}

func (d *SQLDatabase) Ping() error {
	return errors.Trace(d.client.Ping())
}

func (d *SQLDatabase) Close() error {
	return errors.Trace(d.client.Close())
}

// Purge deletes every row.
func (d *SQLDatabase) Purge() error {
	db := d.gormDB.Session(&gorm.Session{AllowGlobalUpdate: true})
	for _, model := range []any{&SQLItem{}, &SQLRating{}, &SQLWatchlist{}} {
		if err := db.Delete(model).Error; err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// BatchInsertItems inserts items and ignores existing ones.
func (d *SQLDatabase) BatchInsertItems(ctx context.Context, items []dataset.Item) error {
	if len(items) == 0 {
		return nil
	}
	start := time.Now()
	defer func() { BatchInsertItemsSeconds.Observe(time.Since(start).Seconds()) }()
	rows := lo.Map(items, func(item dataset.Item, _ int) SQLItem {
		return SQLItem{
			ItemID:   item.ID,
			Title:    item.Title,
			Genres:   item.Genres,
			Overview: item.Overview,
			Year:     item.Year,
			TMDBID:   item.ExternalID,
		}
	})
	err := d.gormDB.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
	return errors.Trace(err)
}

// BatchInsertRatings appends ratings. Ratings without an id get one from the database.
func (d *SQLDatabase) BatchInsertRatings(ctx context.Context, ratings []dataset.Rating) error {
	if len(ratings) == 0 {
		return nil
	}
	start := time.Now()
	defer func() { BatchInsertRatingsSeconds.Observe(time.Since(start).Seconds()) }()
	rows := lo.Map(ratings, func(rating dataset.Rating, _ int) SQLRating {
		return SQLRating{
			ID:        rating.ID,
			UserID:    rating.UserID,
			ItemID:    rating.ItemID,
			Value:     rating.Value,
			Timestamp: rating.Timestamp.UTC(),
		}
	})
	err := d.gormDB.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
	return errors.Trace(err)
}

// BatchInsertWatchlist inserts watchlist entries and ignores duplicated (user, item) pairs.
func (d *SQLDatabase) BatchInsertWatchlist(ctx context.Context, entries []dataset.WatchlistEntry) error {
	if len(entries) == 0 {
		return nil
	}
	start := time.Now()
	defer func() { BatchInsertWatchlistSeconds.Observe(time.Since(start).Seconds()) }()
	rows := lo.Map(entries, func(entry dataset.WatchlistEntry, _ int) SQLWatchlist {
		return SQLWatchlist{
			ID:      entry.ID,
			UserID:  entry.UserID,
			ItemID:  entry.ItemID,
			AddedAt: entry.AddedAt.UTC(),
		}
	})
	err := d.gormDB.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
	return errors.Trace(err)
}

// GetItems returns all items ordered by id.
func (d *SQLDatabase) GetItems(ctx context.Context) ([]dataset.Item, error) {
	start := time.Now()
	defer func() { GetItemsSeconds.Observe(time.Since(start).Seconds()) }()
	rows, err := d.gormDB.WithContext(ctx).Table(d.ItemsTable()).Order("item_id").Rows()
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer rows.Close()
	items := make([]dataset.Item, 0)
	for rows.Next() {
		var row SQLItem
		if err = d.gormDB.ScanRows(rows, &row); err != nil {
			return nil, errors.Trace(err)
		}
		items = append(items, dataset.Item{
			ID:         row.ItemID,
			Title:      row.Title,
			Genres:     row.Genres,
			Overview:   row.Overview,
			Year:       row.Year,
			ExternalID: row.TMDBID,
		})
	}
	return items, errors.Trace(rows.Err())
}

// GetRatings returns all ratings ordered by id.
func (d *SQLDatabase) GetRatings(ctx context.Context) ([]dataset.Rating, error) {
	start := time.Now()
	defer func() { GetRatingsSeconds.Observe(time.Since(start).Seconds()) }()
	rows, err := d.gormDB.WithContext(ctx).Table(d.RatingsTable()).Order("id").Rows()
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer rows.Close()
	ratings := make([]dataset.Rating, 0)
	for rows.Next() {
		var row SQLRating
		if err = d.gormDB.ScanRows(rows, &row); err != nil {
			return nil, errors.Trace(err)
		}
		ratings = append(ratings, dataset.Rating{
			ID:        row.ID,
			UserID:    row.UserID,
			ItemID:    row.ItemID,
			Value:     row.Value,
			Timestamp: row.Timestamp.UTC(),
		})
	}
	return ratings, errors.Trace(rows.Err())
}

// GetWatchlist returns all watchlist entries ordered by id.
func (d *SQLDatabase) GetWatchlist(ctx context.Context) ([]dataset.WatchlistEntry, error) {
	start := time.Now()
	defer func() { GetWatchlistSeconds.Observe(time.Since(start).Seconds()) }()
	rows, err := d.gormDB.WithContext(ctx).Table(d.WatchlistTable()).Order("id").Rows()
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer rows.Close()
	entries := make([]dataset.WatchlistEntry, 0)
	for rows.Next() {
		var row SQLWatchlist
		if err = d.gormDB.ScanRows(rows, &row); err != nil {
			return nil, errors.Trace(err)
		}
		entries = append(entries, dataset.WatchlistEntry{
			ID:      row.ID,
			UserID:  row.UserID,
			ItemID:  row.ItemID,
			AddedAt: row.AddedAt.UTC(),
		})
	}
	return entries, errors.Trace(rows.Err())
}
