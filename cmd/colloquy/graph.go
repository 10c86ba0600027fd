package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rendis/colloquy/internal/diagram"
	"github.com/rendis/colloquy/internal/store"
	"github.com/rendis/colloquy/internal/template"
)

func newGraphCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "graph <template-file>",
		Short: "Render a dialog template as a flowchart",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return renderGraph(cmd, args[0])
		},
	}
	cmd.Flags().String("format", "mermaid", "output format: mermaid or ascii")
	cmd.Flags().String("dialog", "", "dialog ID whose step results overlay the chart")
	return cmd
}

func renderGraph(cmd *cobra.Command, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	tpl, err := template.Parse(data)
	if err != nil {
		return err
	}

	var d *store.Dialog
	if dialogID, _ := cmd.Flags().GetString("dialog"); dialogID != "" {
		rt, err := buildRuntime(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer rt.close()
		d, err = rt.store.LoadDialog(cmd.Context(), dialogID)
		if err != nil {
			return err
		}
	}

	model, err := diagram.Build(tpl, d)
	if err != nil {
		return err
	}

	format, _ := cmd.Flags().GetString("format")
	switch format {
	case "mermaid":
		fmt.Fprint(cmd.OutOrStdout(), diagram.RenderMermaid(model))
	case "ascii":
		fmt.Fprint(cmd.OutOrStdout(), diagram.RenderASCII(model))
	default:
		return fmt.Errorf("unknown format %q, expected mermaid or ascii", format)
	}
	return nil
}
