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
	"context"
	"fmt"
	"io"

	"github.com/gorse-io/reel/base/log"
	"github.com/gorse-io/reel/cmd/version"
	"github.com/gorse-io/reel/config"
	"github.com/gorse-io/reel/engine"
	"github.com/gorse-io/reel/storage/blob"
	"github.com/gorse-io/reel/storage/data"
	"github.com/juju/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var rootCommand = &cobra.Command{
	Use:           "reel",
	Short:         "Hybrid movie recommender.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		debug, _ := cmd.Flags().GetBool("debug")
		log.SetLogger(cmd.Flags(), debug)
	},
}

var versionCommand = &cobra.Command{
	Use:   "version",
	Short: "Show version information.",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Print(version.BuildInfo())
		fmt.Printf("Model format:\t %d\n", engine.FormatVersion)
	},
}

func init() {
	log.AddFlags(rootCommand.PersistentFlags())
	rootCommand.PersistentFlags().Bool("debug", false, "use debug log mode")
	rootCommand.PersistentFlags().StringP("config", "c", "", "configuration file path")
	rootCommand.AddCommand(buildCommand, recommendCommand, importCommand, serveCommand, versionCommand)
}

func main() {
	if err := rootCommand.Execute(); err != nil {
		log.Logger().Fatal("failed to execute", zap.Error(err))
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")
	log.Logger().Info("load config", zap.String("config", configPath))
	conf, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, errors.Annotate(err, "load config")
	}
	return conf, nil
}

func openDatabase(conf *config.Config) (data.Database, error) {
	database, err := data.Open(conf.Database.DataStore, conf.Database.TablePrefix)
	if err != nil {
		return nil, errors.Annotatef(err, "open database %s", log.RedactDBURL(conf.Database.DataStore))
	}
	if err = database.Init(); err != nil {
		_ = database.Close()
		return nil, errors.Annotate(err, "init database")
	}
	return database, nil
}

// workspace holds the storage a command needs and closes it when done.
type workspace struct {
	config   *config.Config
	database data.Database
	store    blob.Store
}

func openWorkspace(cmd *cobra.Command) (*workspace, error) {
	conf, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	database, err := openDatabase(conf)
	if err != nil {
		return nil, err
	}
	store, err := blob.Open(conf.Cache)
	if err != nil {
		_ = database.Close()
		return nil, errors.Annotate(err, "open model cache")
	}
	return &workspace{config: conf, database: database, store: store}, nil
}

func (w *workspace) newEngine(ctx context.Context) (*engine.Engine, error) {
	e, err := engine.NewEngine(ctx, w.config, w.database, w.store)
	return e, errors.Annotate(err, "create engine")
}

func (w *workspace) Close() {
	if closer, ok := w.store.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			log.Logger().Error("failed to close model cache", zap.Error(err))
		}
	}
	if err := w.database.Close(); err != nil {
		log.Logger().Error("failed to close database", zap.Error(err))
	}
}
