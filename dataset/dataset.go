// Copyright 2022 gorse Project Authors
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

package dataset

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gorse-io/reel/base"
)

// Item is a catalog entry.
type Item struct {
	ID         int64
	Title      string
	Genres     string
	Overview   string
	Year       int
	ExternalID int64
}

// Content returns the text used for content similarity.
func (item Item) Content() string {
	return item.Genres + " " + item.Overview
}

// Rating is an explicit score given by a user to an item.
type Rating struct {
	ID        int64
	UserID    int64
	ItemID    int64
	Value     float64
	Timestamp time.Time
}

// WatchlistEntry marks an item a user intends to watch.
type WatchlistEntry struct {
	ID      int64
	UserID  int64
	ItemID  int64
	AddedAt time.Time
}

// Dataset is an immutable snapshot of items, ratings and watchlist entries.
type Dataset struct {
	items       []Item
	ratings     []Rating
	watchlist   []WatchlistEntry
	itemIndex   *base.SparseIdSet
	userIndex   *base.SparseIdSet
	userRatings [][]int32
	userWatch   map[int64]mapset.Set[int64]
}

// NewDataset copies the given snapshots and builds lookup indices.
func NewDataset(items []Item, ratings []Rating, watchlist []WatchlistEntry) *Dataset {
	d := &Dataset{
		items:     append([]Item(nil), items...),
		ratings:   append([]Rating(nil), ratings...),
		watchlist: append([]WatchlistEntry(nil), watchlist...),
		itemIndex: base.NewSparseIdSet(),
		userIndex: base.NewSparseIdSet(),
		userWatch: make(map[int64]mapset.Set[int64]),
	}
	for _, item := range d.items {
		d.itemIndex.Add(item.ID)
	}
	for i, rating := range d.ratings {
		d.userIndex.Add(rating.UserID)
		userIndex := d.userIndex.ToDenseId(rating.UserID)
		if userIndex == len(d.userRatings) {
			d.userRatings = append(d.userRatings, nil)
		}
		d.userRatings[userIndex] = append(d.userRatings[userIndex], int32(i))
	}
	for _, entry := range d.watchlist {
		set, ok := d.userWatch[entry.UserID]
		if !ok {
			set = mapset.NewThreadUnsafeSet[int64]()
			d.userWatch[entry.UserID] = set
		}
		set.Add(entry.ItemID)
	}
	return d
}

func (d *Dataset) GetItems() []Item {
	return d.items
}

func (d *Dataset) GetRatings() []Rating {
	return d.ratings
}

func (d *Dataset) GetWatchlist() []WatchlistEntry {
	return d.watchlist
}

func (d *Dataset) CountItems() int {
	return len(d.items)
}

func (d *Dataset) CountRatings() int {
	return len(d.ratings)
}

func (d *Dataset) CountUsers() int {
	return d.userIndex.Len()
}

// GetItemIndex maps item ids to dense indices assigned in order of first appearance in
// GetItems. A repeated id keeps the index of its first occurrence, so indices equal
// positions in GetItems only when ids are unique.
func (d *Dataset) GetItemIndex() *base.SparseIdSet {
	return d.itemIndex
}

// GetUserRatings returns the ratings given by a user in snapshot order.
func (d *Dataset) GetUserRatings(userId int64) []Rating {
	userIndex := d.userIndex.ToDenseId(userId)
	if userIndex == base.NotId {
		return nil
	}
	ratings := make([]Rating, len(d.userRatings[userIndex]))
	for i, j := range d.userRatings[userIndex] {
		ratings[i] = d.ratings[j]
	}
	return ratings
}

// HasRatings reports whether a user has rated anything.
func (d *Dataset) HasRatings(userId int64) bool {
	return d.userIndex.ToDenseId(userId) != base.NotId
}

// InWatchlist reports whether an item is in a user's watchlist.
func (d *Dataset) InWatchlist(userId, itemId int64) bool {
	set, ok := d.userWatch[userId]
	return ok && set.Contains(itemId)
}

// ContentFingerprint digests everything the content model depends on.
func (d *Dataset) ContentFingerprint() string {
	h := sha256.New()
	buf := make([]byte, 8)
	writeInt := func(v int64) {
		binary.LittleEndian.PutUint64(buf, uint64(v))
		h.Write(buf)
	}
	writeString := func(s string) {
		writeInt(int64(len(s)))
		h.Write([]byte(s))
	}
	writeInt(int64(len(d.items)))
	for _, item := range d.items {
		writeInt(item.ID)
		writeString(item.Genres)
		writeString(item.Overview)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// RatingsFingerprint digests the rating count and the latest rating time.
func (d *Dataset) RatingsFingerprint() string {
	h := sha256.New()
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(len(d.ratings)))
	h.Write(buf)
	var latest time.Time
	for _, rating := range d.ratings {
		if rating.Timestamp.After(latest) {
			latest = rating.Timestamp
		}
	}
	binary.LittleEndian.PutUint64(buf, uint64(latest.Unix()))
	h.Write(buf)
	return hex.EncodeToString(h.Sum(nil))
}
