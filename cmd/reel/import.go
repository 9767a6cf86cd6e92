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
	"os"

	"github.com/gorse-io/reel/importer"
	"github.com/juju/errors"
	"github.com/spf13/cobra"
)

var importCommand = &cobra.Command{
	Use:   "import <dir>",
	Short: "Import a MovieLens dump into the database.",
	Long: "Import movies.csv, links.csv, ratings.csv and an optional watchlist.csv " +
		"(userId,movieId,addedAt) from a directory.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conf, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("max-movies") {
			conf.Importer.MaxMovies, _ = cmd.Flags().GetInt("max-movies")
		}
		database, err := openDatabase(conf)
		if err != nil {
			return err
		}
		defer database.Close()
		im := importer.NewImporter(conf.Importer, database)
		if quiet, _ := cmd.Flags().GetBool("quiet"); !quiet {
			im.SetProgress(os.Stderr)
		}
		_, err = im.Import(cmd.Context(), args[0])
		return errors.Trace(err)
	},
}

func init() {
	importCommand.Flags().Int("max-movies", 0, "maximum number of imported movies, 0 means no limit")
	importCommand.Flags().BoolP("quiet", "q", false, "hide progress bars")
}
