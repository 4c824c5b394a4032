package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	jobs "github.com/jdziat/resilient-jobs"
)

func createTickCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tick",
		Short: "Run a single dispatcher tick and print its report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := openNode(cmd)
			if err != nil {
				return err
			}
			defer n.close(cmd.Context())

			report, err := n.proc.Tick(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}
}

func createEnqueueCmd() *cobra.Command {
	var (
		priority int
		delay    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "enqueue TYPE [PAYLOAD_JSON]",
		Short: "Enqueue a job and print its id",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := json.RawMessage("null")
			if len(args) == 2 {
				if !json.Valid([]byte(args[1])) {
					return fmt.Errorf("payload is not valid JSON")
				}
				payload = json.RawMessage(args[1])
			}

			n, err := openNode(cmd)
			if err != nil {
				return err
			}
			defer n.close(cmd.Context())

			opts := []jobs.Option{jobs.Priority(priority)}
			if delay > 0 {
				opts = append(opts, jobs.Delay(delay))
			}
			id, err := n.proc.Enqueue(cmd.Context(), args[0], payload, opts...)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
	cmd.Flags().IntVar(&priority, "priority", 10, "job priority, lower runs first")
	cmd.Flags().DurationVar(&delay, "delay", 0, "run no earlier than this long from now")
	return cmd
}

func createStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status JOB_ID",
		Short: "Print a job's status, progress and message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := openNode(cmd)
			if err != nil {
				return err
			}
			defer n.close(cmd.Context())

			job, err := n.proc.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), job)
		},
	}
}

func createCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel JOB_ID",
		Short: "Cancel a job that has not started",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := openNode(cmd)
			if err != nil {
				return err
			}
			defer n.close(cmd.Context())

			ok, err := n.proc.Cancel(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if ok {
				fmt.Fprintln(cmd.OutOrStdout(), "cancelled")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "not cancelled: job already started or finished")
			}
			return nil
		},
	}
}

func createStatsCmd() *cobra.Command {
	var window time.Duration
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print job counts by status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := openNode(cmd)
			if err != nil {
				return err
			}
			defer n.close(cmd.Context())

			counts, err := n.proc.Stats(cmd.Context(), window)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), counts)
		},
	}
	cmd.Flags().DurationVar(&window, "window", 0, "only count jobs updated within this window (0 counts all)")
	return cmd
}

func createPurgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Delete finished jobs older than JOBS_RETENTION",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := openNode(cmd)
			if err != nil {
				return err
			}
			defer n.close(cmd.Context())

			purged, err := n.proc.Dispatcher.Sweep(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged %d jobs\n", purged)
			return nil
		},
	}
}
