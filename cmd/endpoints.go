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
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var probeTimeout time.Duration

var endpointsCmd = &cobra.Command{
	Use:   "endpoints",
	Short: "Inspect the endpoint catalog",
}

var endpointsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured endpoints and probe their backends",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(false)
		if err != nil {
			return err
		}
		defer a.Close()

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "#\tID\tKIND\tMODEL\tTIMEOUT\tSTREAM\tIMAGES\tSTATUS")
		for i, ep := range a.catalog.Entries() {
			timeout := "none"
			if ep.HasTimeout() {
				timeout = ep.Timeout.String()
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%v\t%v\t%s\n",
				i+1, ep.ID, ep.Kind, ep.Model, timeout,
				ep.SupportsStreaming, ep.SupportsImagePayload, a.probe(cmd.Context(), ep.Kind))
		}
		return w.Flush()
	},
}

func (a *app) probe(ctx context.Context, kind string) string {
	b, ok := a.dispatcher.Backend(kind)
	if !ok {
		return "unknown kind"
	}
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	if err := b.IsAvailable(ctx); err != nil {
		return "unavailable: " + err.Error()
	}
	return "ok"
}

var endpointsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show per-endpoint attempt statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore(appConfig.DBPath)
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.EndpointStats(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to get stats: %w", err)
		}
		if len(stats) == 0 {
			fmt.Println("No attempts recorded.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ENDPOINT\tATTEMPTS\tSUCCESS\tTRANSIENT\tFATAL\tTIMED OUT\tSKIPPED\tAVG LATENCY")
		for _, st := range stats {
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\t%d\t%.0fms\n",
				st.EndpointID, st.Attempts, st.Successes, st.Transient,
				st.Fatal, st.TimedOut, st.Skipped, st.AvgLatencyMs)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(endpointsCmd)

	endpointsListCmd.Flags().DurationVar(&probeTimeout, "probe-timeout", 5*time.Second, "Availability probe timeout per endpoint")

	endpointsCmd.AddCommand(endpointsListCmd)
	endpointsCmd.AddCommand(endpointsStatsCmd)
}
