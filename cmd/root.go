/*
Copyright © 2025 Valentyn Solomko <valentyn.solomko@gmail.com>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/valpere/regiontran/internal/config"
	"github.com/valpere/regiontran/internal/logging"
)

var version = "0.1.0"

var (
	cfgFile  string
	logLevel string

	appConfig *config.Config
	logger    = zerolog.Nop()
)

var rootCmd = &cobra.Command{
	Use:   "regiontran",
	Short: "Resilient multi-backend translator",
	Long: `A CLI application that translates text or images through an ordered chain
of translation endpoints, retrying transient failures and falling back to
the next endpoint when one fails or times out.

Supported endpoint kinds: openrouter, ollama, google, mymemory, lambda

Use "regiontran translate --help" for single-shot translation and
"regiontran live --help" to keep a translation of a watched file up to date.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config.LoadDotEnv()

		v, err := config.New()
		if err != nil {
			return err
		}
		cfg, err := config.Load(v, cfgFile)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("log-level") {
			cfg.LogLevel = logLevel
		}

		appConfig = cfg
		logger = logging.New(cfg.LogLevel, cfg.Env, os.Stderr)
		if cfg.File != "" {
			logger.Debug().Str("file", cfg.File).Msg("config loaded")
		}
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		rootCmd.PrintErrln("Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default ./regiontran.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
}
