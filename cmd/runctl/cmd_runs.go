package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/xiaot623/gogo/controlplane/internal/domain"
)

func init() {
	rootCmd.AddCommand(healthCmd, runsCmd, runCmd, eventsCmd)

	runsCmd.Flags().Int("limit", 20, "maximum number of runs to list")
	runsCmd.Flags().Int("offset", 0, "number of runs to skip")
	runsCmd.Flags().Bool("json", false, "print raw JSON")

	runCmd.Flags().Bool("events", false, "also print each run's event log")
	runCmd.Flags().Bool("json", false, "print raw JSON")

	eventsCmd.Flags().Bool("json", false, "print raw JSON")
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check that the control plane is up",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := newClient().Health(cmd.Context())
		if err != nil {
			return fmt.Errorf("health: %w", err)
		}
		fmt.Fprintf(os.Stdout, "%s (cache loaded: %t, cached runs: %d, connections: %d)\n",
			h.Health, h.CacheLoaded, h.CachedRuns, h.Connections)
		return nil
	},
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent runs, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")
		asJSON, _ := cmd.Flags().GetBool("json")

		runs, err := newClient().Runs(cmd.Context(), limit, offset)
		if err != nil {
			return fmt.Errorf("list runs: %w", err)
		}
		if asJSON {
			return printJSON(os.Stdout, runs)
		}
		if len(runs) == 0 {
			fmt.Println("No runs found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tSTARTED\tDURATION\tEVENTS\tPOSITION")
		for _, r := range runs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
				r.ID,
				formatStatus(r.Status),
				formatTime(&r.StartedAt),
				formatDuration(r),
				r.EventCount,
				formatPosition(r),
			)
		}
		return w.Flush()
	},
}

var runCmd = &cobra.Command{
	Use:   "run <id>...",
	Short: "Show one or more runs",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		withEvents, _ := cmd.Flags().GetBool("events")
		asJSON, _ := cmd.Flags().GetBool("json")
		c := newClient()

		runs, err := c.RunsByID(cmd.Context(), args)
		if err != nil {
			return fmt.Errorf("get runs: %w", err)
		}
		if len(runs) == 0 {
			return fmt.Errorf("no runs found for %v", args)
		}

		events := make([][]domain.Event, len(runs))
		if withEvents {
			g, ctx := errgroup.WithContext(cmd.Context())
			for i, r := range runs {
				i, id := i, r.ID
				g.Go(func() error {
					evs, err := c.RunEvents(ctx, id)
					if err != nil {
						return fmt.Errorf("get events for %s: %w", id, err)
					}
					events[i] = evs
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}
		}

		if asJSON {
			if !withEvents {
				return printJSON(os.Stdout, runs)
			}
			type runWithEvents struct {
				domain.Run
				Events []domain.Event `json:"events"`
			}
			out := make([]runWithEvents, len(runs))
			for i, r := range runs {
				out[i] = runWithEvents{Run: r, Events: events[i]}
			}
			return printJSON(os.Stdout, out)
		}

		for i, r := range runs {
			if i > 0 {
				fmt.Println()
			}
			printRun(os.Stdout, r)
			for _, e := range events[i] {
				fmt.Println("  " + formatEvent(e))
			}
		}
		return nil
	},
}

var eventsCmd = &cobra.Command{
	Use:   "events <id>",
	Short: "Print the event log of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		events, err := newClient().RunEvents(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("get events: %w", err)
		}
		if asJSON {
			return printJSON(os.Stdout, events)
		}
		if len(events) == 0 {
			fmt.Println("No events recorded.")
			return nil
		}
		for _, e := range events {
			fmt.Println(formatEvent(e))
		}
		return nil
	},
}
