package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"safety-scheduler/internal/dispatch"
	"safety-scheduler/internal/store"
	"safety-scheduler/internal/task"
)

func newReserveCmd(env func() *env) *cobra.Command {
	return &cobra.Command{
		Use:   "reserve",
		Short: "Reserve a fresh job id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := env().engine.ReserveID(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
}

func newGetCmd(env func() *env) *cobra.Command {
	return &cobra.Command{
		Use:   "get <job-id>",
		Short: "Print a job's task as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := env().engine.Get(cmd.Context(), args[0])
			if err != nil {
				return describe(err, args[0])
			}
			return printJSON(cmd, map[string]any{"job_id": args[0], "kind": t.Kind(), "task": t})
		},
	}
}

func newRemoveCmd(env func() *env) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <job-id>...",
		Short: "Remove jobs; missing ids are not an error",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, id := range args {
				if err := env().engine.Remove(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", id)
			}
			return nil
		},
	}
}

func newPeekCmd(env func() *env) *cobra.Command {
	var before int64
	cmd := &cobra.Command{
		Use:   "peek",
		Short: "List jobs due at or before a time without claiming them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			jobs, err := env().engine.PeekDue(cmd.Context(), cutoff(before))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(jobs) == 0 {
				fmt.Fprintln(out, "no jobs due")
				return nil
			}
			for _, j := range jobs {
				fmt.Fprintf(out, "%s\t%s\t%s\t%s\n", j.ID, time.Unix(j.DueAt, 0).UTC().Format(time.RFC3339), j.Task.Kind(), task.Topic(j.Task))
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&before, "before", 0, "unix seconds cutoff (default now)")
	return cmd
}

func newLookupCmd(env func() *env) *cobra.Command {
	return &cobra.Command{
		Use:   "lookup <ref>",
		Short: "Resolve an external reference to its job id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := env().engine.LookupRef(cmd.Context(), args[0])
			if err != nil {
				return describe(err, args[0])
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
}

func newCountCmd(env func() *env) *cobra.Command {
	return &cobra.Command{
		Use:   "count",
		Short: "Print the number of scheduled jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := env().engine.Count(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), n)
			return nil
		},
	}
}

func newClearDueCmd(env func() *env) *cobra.Command {
	var before int64
	cmd := &cobra.Command{
		Use:   "clear-due",
		Short: "Drop due jobs without running them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := env().engine.ClearDue(cmd.Context(), cutoff(before))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "dropped %d jobs\n", n)
			return nil
		},
	}
	cmd.Flags().Int64Var(&before, "before", 0, "unix seconds cutoff (default now)")
	return cmd
}

func newClearCmd(env func() *env) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Drop every job and reservation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("refusing to clear without --yes")
			}
			if err := env().engine.Clear(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "cleared")
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm dropping everything")
	return cmd
}

func newDispatchOnceCmd(env func() *env) *cobra.Command {
	return &cobra.Command{
		Use:   "dispatch-once",
		Short: "Claim due jobs and run them through the configured transport",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e := env()
			notifier, closeNotifier, err := e.outbound()
			if err != nil {
				return err
			}
			defer closeNotifier()
			loop, err := dispatch.New(e.engine, notifier, dispatch.Config{ExecTimeout: e.cfg.Dispatcher.ExecTimeout},
				dispatch.WithLogger(e.log))
			if err != nil {
				return err
			}
			n, err := loop.Tick(cmd.Context())
			if err != nil {
				return err
			}
			loop.Wait()
			fmt.Fprintf(cmd.OutOrStdout(), "dispatched %d jobs\n", n)
			return nil
		},
	}
}

func cutoff(before int64) int64 {
	if before > 0 {
		return before
	}
	return time.Now().Unix()
}

func describe(err error, id string) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("no such job: %s", id)
	}
	return err
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
