package main

import (
	"github.com/spf13/cobra"
)

var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Run the schedule runner",
	Long: `Run the schedule runner. Every configured schedule entry is spawned
at most once per runtime across all scheduler replicas; the claim is a
Redis SET NX EX on the entry's run-state key.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		reg, err := a.registry(ctx)
		if err != nil {
			a.close()
			return err
		}
		sched, err := a.schedulerRole(ctx, reg)
		if err != nil {
			a.close()
			return err
		}
		return a.run(ctx, sched)
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Execute task activations",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		namespaces, _ := cmd.Flags().GetStringSlice("namespace")
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		reg, err := a.registry(ctx)
		if err != nil {
			a.close()
			return err
		}
		roles, err := a.workerRoles(ctx, reg, namespaces)
		if err != nil {
			a.close()
			return err
		}
		return a.run(ctx, roles...)
	},
}

var clockCmd = &cobra.Command{
	Use:   "clock",
	Short: "Consume check-ins and drive the monitor clock",
	Long: `Consume the check-in ingest topic. Check-ins update their monitor
environment; the timestamps of all partitions advance a shared clock that
emits one tick per minute once every partition has moved past it. Each
tick is swept for missed, timed out and unknown check-ins.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		roles, err := a.clockRoles(ctx)
		if err != nil {
			a.close()
			return err
		}
		return a.run(ctx, roles...)
	},
}

var clockTasksCmd = &cobra.Command{
	Use:   "clock-tasks",
	Short: "Mark missed, timed out and unknown check-ins",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		r, err := a.clockTasksRole(ctx)
		if err != nil {
			a.close()
			return err
		}
		return a.run(ctx, r)
	},
}

var incidentsCmd = &cobra.Command{
	Use:   "incidents",
	Short: "Release incident occurrences after their tick is classified",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		r, err := a.incidentsRole(ctx)
		if err != nil {
			a.close()
			return err
		}
		return a.run(ctx, r)
	},
}

var standaloneCmd = &cobra.Command{
	Use:   "standalone",
	Short: "Run every role in one process",
	Long: `Run the scheduler, the workers, the clock, the clock tasks and the
incident consumer in one process. Combined with message_log.driver
"memory" this needs no infrastructure besides the bolt file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		roles, err := a.standaloneRoles(ctx)
		if err != nil {
			a.close()
			return err
		}
		return a.run(ctx, roles...)
	},
}

func init() {
	workerCmd.Flags().StringSlice("namespace", []string{"monitors"}, "Task namespaces to execute")
}
