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
	"os/signal"
	"syscall"

	"github.com/gorse-io/reel/base/log"
	"github.com/gorse-io/reel/server"
	"github.com/juju/errors"
	"github.com/spf13/cobra"
)

var serveCommand = &cobra.Command{
	Use:   "serve",
	Short: "Serve recommendations over HTTP.",
	RunE: func(cmd *cobra.Command, args []string) error {
		w, err := openWorkspace(cmd)
		if err != nil {
			return err
		}
		defer w.Close()
		if cmd.Flags().Changed("port") {
			w.config.Server.Port, _ = cmd.Flags().GetInt("port")
		}
		e, err := w.newEngine(cmd.Context())
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if err = server.NewServer(e, w.config).Serve(ctx); err != nil {
			return errors.Trace(err)
		}
		log.Logger().Info("stop server successfully")
		return nil
	},
}

func init() {
	serveCommand.Flags().IntP("port", "p", 0, "port of the HTTP server, overrides server.port")
}
