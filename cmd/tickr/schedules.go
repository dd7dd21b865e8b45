package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/tickr/pkg/config"
)

var schedulesCmd = &cobra.Command{
	Use:   "schedules",
	Short: "List configured schedules and their next runtimes",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		count, _ := cmd.Flags().GetInt("count")
		fromFlag, _ := cmd.Flags().GetString("from")

		from := time.Now().UTC()
		if fromFlag != "" {
			from, err = time.Parse(time.RFC3339, fromFlag)
			if err != nil {
				return fmt.Errorf("invalid --from: %w", err)
			}
		}
		return printSchedules(cmd.OutOrStdout(), cfg, from, count)
	},
}

func init() {
	schedulesCmd.Flags().Int("count", 3, "Number of upcoming runtimes to show per schedule")
	schedulesCmd.Flags().String("from", "", "Reference time in RFC3339 (defaults to now)")
}

// printSchedules writes one row per schedule entry with its next count
// runtimes after from
func printSchedules(out io.Writer, cfg *config.Config, from time.Time, count int) error {
	if count < 1 {
		count = 1
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "KEY\tTASK\tSCHEDULE\tNEXT RUNS\n")

	for _, key := range cfg.ScheduleKeys() {
		sc := cfg.Scheduler.Schedules[key]
		s, err := sc.Build()
		if err != nil {
			return fmt.Errorf("schedule %s: %w", key, err)
		}

		runs := make([]string, 0, count)
		t := from
		for i := 0; i < count; i++ {
			t = s.RuntimeAfter(t)
			runs = append(runs, t.Format(time.RFC3339))
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", key, sc.Task, s.String(), strings.Join(runs, ", "))
	}
	return w.Flush()
}
