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


package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/gorse-io/reel/dataset"
	"github.com/juju/errors"
	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

var recommendCommand = &cobra.Command{
	Use:   "recommend",
	Short: "Print recommended movies for a user.",
	RunE: func(cmd *cobra.Command, args []string) error {
		userId, _ := cmd.Flags().GetInt64("user")
		n, _ := cmd.Flags().GetInt("n")
		scores, _ := cmd.Flags().GetBool("scores")
		w, err := openWorkspace(cmd)
		if err != nil {
			return err
		}
		defer w.Close()
		if !cmd.Flags().Changed("n") {
			n = w.config.Recommend.DefaultN
		}
		if n < 0 {
			return errors.NotValidf("negative n %d", n)
		}
		e, err := w.newEngine(cmd.Context())
		if err != nil {
			return err
		}
		titles := lo.SliceToMap(e.Dataset().GetItems(), func(item dataset.Item) (int64, string) {
			return item.ID, item.Title
		})

		table := tablewriter.NewWriter(os.Stdout)
		if scores {
			table.Header([]string{"#", "movie", "title", "content", "collaborative", "hybrid", "watchlist"})
			for i, record := range e.RecommendWithScores(userId, n) {
				if err = table.Append([]string{
					strconv.Itoa(i + 1),
					strconv.FormatInt(record.ItemID, 10),
					titles[record.ItemID],
					fmt.Sprintf("%.4f", record.ContentScore),
					fmt.Sprintf("%.4f", record.CollaborativeScore),
					fmt.Sprintf("%.4f", record.HybridScore),
					strconv.FormatBool(record.InWatchlist),
				}); err != nil {
					return errors.Trace(err)
				}
			}
		} else {
			table.Header([]string{"#", "movie", "title"})
			for i, itemId := range e.Recommend(userId, n) {
				if err = table.Append([]string{
					strconv.Itoa(i + 1),
					strconv.FormatInt(itemId, 10),
					titles[itemId],
				}); err != nil {
					return errors.Trace(err)
				}
			}
		}
		return errors.Trace(table.Render())
	},
}

func init() {
	recommendCommand.Flags().Int64P("user", "u", 0, "user id")
	recommendCommand.Flags().IntP("n", "n", 10, "number of recommended movies")
	recommendCommand.Flags().Bool("scores", false, "show the score breakdown")
	_ = recommendCommand.MarkFlagRequired("user")
}
