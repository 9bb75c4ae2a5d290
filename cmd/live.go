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
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/valpere/regiontran/internal/live"
	"github.com/valpere/regiontran/internal/sink"
	"github.com/valpere/regiontran/internal/surface"
)

var (
	watchFile    string
	liveTarget   string
	liveMode     string
	liveDebounce int
	liveInterval int
)

var liveCmd = &cobra.Command{
	Use:   "live",
	Short: "Keep a translation of a watched file up to date",
	Long: `Watch a text or image file and translate it whenever it changes.

In movement mode (default) every completed write counts as the end of a
movement; a translation starts once the file has been quiet for the
debounce delay. In interval mode the file is translated on a fixed cadence.

Press Enter to translate immediately. Press Ctrl+C to stop.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := live.Config{
			TargetLanguage: liveTarget,
			Debounce:       appConfig.Debounce,
			Interval:       appConfig.LiveInterval,
		}
		switch liveMode {
		case "movement":
			cfg.Mode = live.ModeMovement
		case "interval":
			cfg.Mode = live.ModeInterval
		default:
			return fmt.Errorf("unknown mode %q: use movement or interval", liveMode)
		}
		if cmd.Flags().Changed("debounce-ms") {
			cfg.Debounce = msDuration(liveDebounce)
		}
		if cmd.Flags().Changed("interval-ms") {
			cfg.Interval = msDuration(liveInterval)
		}

		a, err := buildApp(true)
		if err != nil {
			return err
		}
		defer a.Close()

		surf, err := surface.NewFile(watchFile, logger)
		if err != nil {
			return err
		}
		defer surf.Close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sch := a.service.NewScheduler(cfg)
		sess, err := sch.Activate(ctx, surf, sink.NewTerminal(os.Stdout, os.Stderr))
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Watching %s (%s mode, target %s)\n", surf.ID(), sch.Config().Mode, liveTarget)

		go func() {
			scanner := bufio.NewScanner(os.Stdin)
			for scanner.Scan() {
				if !sess.TriggerNow() {
					fmt.Fprintln(os.Stderr, "Translation already in progress")
				}
			}
		}()

		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigs)

		select {
		case <-sigs:
		case <-cmd.Context().Done():
		case <-sess.Done():
		}

		sess.Deactivate()
		st := sess.Status()
		fmt.Fprintf(os.Stderr, "Stopped after %d translation cycles\n", st.Cycles)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(liveCmd)

	liveCmd.Flags().StringVarP(&watchFile, "watch", "w", "", "File to watch (required)")
	liveCmd.Flags().StringVarP(&liveTarget, "target", "t", "", "Target language (BCP 47, required)")
	liveCmd.Flags().StringVar(&liveMode, "mode", "movement", "Trigger mode: movement or interval")
	liveCmd.Flags().IntVar(&liveDebounce, "debounce-ms", 0, "Quiet period after a change before translating (default from config)")
	liveCmd.Flags().IntVar(&liveInterval, "interval-ms", 0, "Cadence in interval mode and retry delay after a failure (default from config)")

	liveCmd.MarkFlagRequired("watch")
	liveCmd.MarkFlagRequired("target")
}
