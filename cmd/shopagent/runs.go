package main

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newRunsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "runs",
		Short: "List persisted runs and their latest status",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), *configPath, "")
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			ids, err := a.store.ListRuns(ctx)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "RUN\tSTATUS\tSTEP\tUPDATED\tPROMPT")
			for _, id := range ids {
				snap, _, err := a.store.LoadLatest(ctx, id)
				if err != nil {
					return err
				}
				prompt := ""
				if snap.Prompt != nil {
					prompt = snap.Prompt.String("prompt")
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", id, snap.Status, snap.Step, snap.UpdatedAt.Format("2006-01-02 15:04:05"), prompt)
			}
			return w.Flush()
		},
	}
}

func newResumeCmd(configPath *string) *cobra.Command {
	var workflow string

	cmd := &cobra.Command{
		Use:   "resume <run-id>",
		Short: "Restore a parked run from the store and answer its prompt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			a, err := newApp(ctx, *configPath, workflow)
			if err != nil {
				return err
			}
			defer a.Close()

			h, err := a.engine.Restore(ctx, args[0])
			if err != nil {
				return err
			}

			// The stream would replay prompts answered before the restart,
			// so answer only what the run is parked on now.
			in, out := bufio.NewReader(cmd.InOrStdin()), cmd.OutOrStdout()
			ticker := time.NewTicker(10 * time.Millisecond)
			defer ticker.Stop()
			for {
				if ev, ok := h.Awaiting(); ok {
					if err := answer(ctx, h, ev, in, out); err != nil {
						h.Abort()
						return err
					}
				}
				select {
				case <-h.Done():
					result, err := h.Result(ctx)
					if err != nil {
						return fmt.Errorf("run %s failed: %w", h.RunID(), err)
					}
					fmt.Fprintln(out, result.Result())
					return nil
				case <-ctx.Done():
					h.Abort()
					return ctx.Err()
				case <-ticker.C:
				}
			}
		},
	}
	cmd.Flags().StringVarP(&workflow, "workflow", "w", "", "workflow the run belongs to (default from config)")
	return cmd
}
