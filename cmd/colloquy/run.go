package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rendis/colloquy/pkg/schema"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <template>",
		Short: "Run a dialog interactively in the terminal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDialog(cmd, args[0])
		},
	}
	cmd.Flags().StringArrayP("input", "i", nil, "dialog input as key=value (repeatable)")
	return cmd
}

func runDialog(cmd *cobra.Command, templateName string) error {
	ctx := cmd.Context()

	rt, err := buildRuntime(ctx, cmd)
	if err != nil {
		return err
	}
	defer rt.close()

	pairs, _ := cmd.Flags().GetStringArray("input")
	inputs, err := parseInputs(pairs)
	if err != nil {
		return err
	}

	d, err := rt.engine.Start(ctx, templateName, inputs)
	if err != nil && d == nil {
		return err
	}

	printed := 0
	reader := bufio.NewReader(os.Stdin)
	for {
		printed, err = printNewMessages(cmd, rt, d.ID, printed)
		if err != nil {
			return err
		}

		if d.Status != schema.DialogStatusWaitingInput {
			break
		}

		fmt.Fprint(cmd.OutOrStdout(), "> ")
		line, readErr := reader.ReadString('\n')
		if readErr != nil {
			return fmt.Errorf("read input: %w", readErr)
		}
		line = strings.TrimSpace(line)

		d, err = rt.engine.Resume(ctx, d.ID, map[string]any{"text": line})
		if err != nil {
			if schema.IsCode(err, schema.ErrCodeValidation) {
				fmt.Fprintf(cmd.OutOrStdout(), "input rejected: %v\n", err)
				continue
			}
			return err
		}
	}

	switch d.Status {
	case schema.DialogStatusCompleted:
		fmt.Fprintf(cmd.OutOrStdout(), "dialog %s completed\n", d.ID)
		return nil
	default:
		fmt.Fprintf(cmd.OutOrStdout(), "dialog %s %s\n", d.ID, d.Status)
		if len(d.Error) > 0 {
			fmt.Fprintln(cmd.OutOrStdout(), string(d.Error))
		}
		return fmt.Errorf("dialog did not complete")
	}
}

// printNewMessages prints transcript messages not yet shown and returns the
// new count.
func printNewMessages(cmd *cobra.Command, rt *runtime, dialogID string, printed int) (int, error) {
	messages, err := rt.store.ListMessages(cmd.Context(), dialogID)
	if err != nil {
		return printed, err
	}
	for _, m := range messages[printed:] {
		if m.Role == "user" {
			continue // already echoed by the terminal
		}
		fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s\n", m.Role, m.Content)
	}
	return len(messages), nil
}

func parseInputs(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	inputs := make(map[string]any, len(pairs))
	for _, p := range pairs {
		key, value, ok := strings.Cut(p, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid input %q, expected key=value", p)
		}
		inputs[key] = value
	}
	return inputs, nil
}
