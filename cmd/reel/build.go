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
	"time"

	"github.com/gorse-io/reel/base/log"
	"github.com/gorse-io/reel/engine"
	"github.com/juju/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var buildCommand = &cobra.Command{
	Use:   "build",
	Short: "Build both models and store them in the model cache.",
	RunE: func(cmd *cobra.Command, args []string) error {
		w, err := openWorkspace(cmd)
		if err != nil {
			return err
		}
		defer w.Close()
		if rebuild, _ := cmd.Flags().GetBool("rebuild"); rebuild {
			log.Logger().Info("purge model cache")
			if err = engine.PurgeCache(cmd.Context(), w.store); err != nil {
				return errors.Trace(err)
			}
		}
		start := time.Now()
		e, err := w.newEngine(cmd.Context())
		if err != nil {
			return err
		}
		log.Logger().Info("models are ready",
			zap.Int("n_items", e.ContentModel().Dim()),
			zap.Bool("collaborative", e.CollaborativeState().IsPresent()),
			zap.Duration("elapsed", time.Since(start)))
		return nil
	},
}

func init() {
	buildCommand.Flags().Bool("rebuild", false, "purge cached models before building")
}
