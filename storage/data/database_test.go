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
	"time"

	"github.com/gorse-io/reel/dataset"
	"github.com/juju/errors"
	"github.com/stretchr/testify/suite"
)

type baseTestSuite struct {
	suite.Suite
	Database
}

func (suite *baseTestSuite) SetupTest() {
	suite.NoError(suite.Database.Purge())
}

func (suite *baseTestSuite) TestItems() {
	ctx := context.Background()
	items := []dataset.Item{
		{ID: 3, Title: "Heat (1995)", Genres: "Action|Crime", Overview: "A heist.", Year: 1995, ExternalID: 949},
		{ID: 1, Title: "Toy Story (1995)", Genres: "Animation|Comedy", ExternalID: 862},
		{ID: 2, Title: "Jumanji (1995)", Genres: "Adventure"},
	}
	suite.NoError(suite.Database.BatchInsertItems(ctx, items))
	// duplicated items are ignored
	suite.NoError(suite.Database.BatchInsertItems(ctx, []dataset.Item{{ID: 1, Title: "Duplicate"}}))
	suite.NoError(suite.Database.BatchInsertItems(ctx, nil))

	result, err := suite.Database.GetItems(ctx)
	suite.NoError(err)
	suite.Equal([]dataset.Item{items[1], items[2], items[0]}, result)
}

func (suite *baseTestSuite) TestRatings() {
	ctx := context.Background()
	timestamp := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	ratings := []dataset.Rating{
		{UserID: 1, ItemID: 10, Value: 4.5, Timestamp: timestamp},
		{UserID: 1, ItemID: 20, Value: 1, Timestamp: timestamp.Add(time.Hour)},
		{UserID: 2, ItemID: 10, Value: 3, Timestamp: timestamp.Add(2 * time.Hour)},
	}
	suite.NoError(suite.Database.BatchInsertRatings(ctx, ratings))
	// ratings are not deduplicated
	suite.NoError(suite.Database.BatchInsertRatings(ctx, ratings[:1]))

	result, err := suite.Database.GetRatings(ctx)
	suite.NoError(err)
	suite.Len(result, 4)
	for i, rating := range append(ratings, ratings[0]) {
		suite.NotZero(result[i].ID)
		suite.Equal(rating.UserID, result[i].UserID)
		suite.Equal(rating.ItemID, result[i].ItemID)
		suite.Equal(rating.Value, result[i].Value)
		suite.True(rating.Timestamp.Equal(result[i].Timestamp))
	}
}

func (suite *baseTestSuite) TestWatchlist() {
	ctx := context.Background()
	entries := []dataset.WatchlistEntry{
		{UserID: 1, ItemID: 10, AddedAt: time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)},
		{UserID: 1, ItemID: 20, AddedAt: time.Date(2021, 1, 2, 0, 0, 0, 0, time.UTC)},
	}
	suite.NoError(suite.Database.BatchInsertWatchlist(ctx, entries))
	// the same (user, item) pair is stored once
	suite.NoError(suite.Database.BatchInsertWatchlist(ctx, entries[:1]))

	result, err := suite.Database.GetWatchlist(ctx)
	suite.NoError(err)
	suite.Len(result, 2)
	suite.Equal(int64(10), result[0].ItemID)
	suite.Equal(int64(20), result[1].ItemID)
	suite.True(entries[1].AddedAt.Equal(result[1].AddedAt))
}

func (suite *baseTestSuite) TestPurge() {
	ctx := context.Background()
	suite.NoError(suite.Database.BatchInsertItems(ctx, []dataset.Item{{ID: 1}}))
	suite.NoError(suite.Database.BatchInsertRatings(ctx, []dataset.Rating{{UserID: 1, ItemID: 1, Value: 5}}))
	suite.NoError(suite.Database.Purge())
	items, err := suite.Database.GetItems(ctx)
	suite.NoError(err)
	suite.Empty(items)
	ratings, err := suite.Database.GetRatings(ctx)
	suite.NoError(err)
	suite.Empty(ratings)
}

func (suite *baseTestSuite) TestPing() {
	suite.NoError(suite.Database.Ping())
}

func (suite *baseTestSuite) TestOpenUnknown() {
	_, err := Open("mongodb://localhost:27017/reel", "")
	suite.True(errors.Is(err, errors.NotSupported))
}
