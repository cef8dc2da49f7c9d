package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/dshills/stepflow/flow"
	"github.com/dshills/stepflow/shop"
	"github.com/spf13/cobra"
)

var workflowNames = []string{shop.WorkflowQA, shop.WorkflowAdmin}

func newChatCmd(configPath *string) *cobra.Command {
	var workflow string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Ask questions interactively; admin requests ask for confirmation",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			a, err := newApp(ctx, *configPath, workflow)
			if err != nil {
				return err
			}
			defer a.Close()

			err = chatLoop(ctx, a.engine, bufio.NewReader(cmd.InOrStdin()), cmd.OutOrStdout())
			fmt.Fprintf(cmd.ErrOrStderr(), "LLM usage: %s\n", a.costs)
			return err
		},
	}
	cmd.Flags().StringVarP(&workflow, "workflow", "w", "",
		"workflow to run: "+strings.Join(workflowNames, " or ")+" (default from config)")
	return cmd
}

// chatLoop reads queries until "exit" or EOF and runs each to completion.
func chatLoop(ctx context.Context, engine *flow.Engine, in *bufio.Reader, out io.Writer) error {
	for {
		query, err := prompt(in, out, "Enter your query: ")
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if strings.EqualFold(query, "exit") {
			return nil
		}
		if query == "" {
			continue
		}

		h, err := engine.Submit(ctx, flow.Payload{"query": query})
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		if err := drive(ctx, h, in, out); err != nil {
			return err
		}
	}
}

// drive answers the run's input prompts from in and prints its result.
func drive(ctx context.Context, h *flow.Handle, in *bufio.Reader, out io.Writer) error {
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for ev := range h.Stream(streamCtx) {
		if ev.Kind() != flow.KindInputRequired {
			continue
		}
		if err := answer(ctx, h, ev, in, out); err != nil {
			h.Abort()
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}

	result, err := h.Result(ctx)
	if err != nil {
		fmt.Fprintf(out, "run %s failed: %v\n", h.RunID(), err)
		return nil
	}
	fmt.Fprintln(out, result.Result())
	return nil
}

func answer(ctx context.Context, h *flow.Handle, ev flow.Event, in *bufio.Reader, out io.Writer) error {
	text := ev.String("confirmation")
	if text == "" {
		text = ev.String("prompt")
	}
	reply, err := prompt(in, out, text+" ")
	if err != nil {
		return err
	}
	return respondWhenParked(ctx, h, flow.HumanResponse(reply))
}

// respondWhenParked retries Respond while the run is still settling into
// the parked state after emitting its prompt.
func respondWhenParked(ctx context.Context, h *flow.Handle, ev flow.Event) error {
	for {
		err := h.Respond(ev)
		var np *flow.NotParkedError
		if !errors.As(err, &np) || np.Status != flow.StatusRunning {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-h.Done():
			return nil
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func prompt(in *bufio.Reader, out io.Writer, label string) (string, error) {
	fmt.Fprint(out, label)
	line, err := in.ReadString('\n')
	if err != nil && (line == "" || !errors.Is(err, io.EOF)) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
