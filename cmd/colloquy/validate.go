package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rendis/colloquy/internal/template"
	"github.com/rendis/colloquy/internal/validation"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>...",
		Short: "Validate dialog template files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			validator, err := validation.NewJSONSchemaValidator()
			if err != nil {
				return err
			}

			failed := 0
			for _, path := range args {
				if err := validateFile(validator, path); err != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %v\n", path, err)
					failed++
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", path)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d template(s) invalid", failed, len(args))
			}
			return nil
		},
	}
}

func validateFile(validator validation.Validator, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	tpl, err := template.Parse(data)
	if err != nil {
		return err
	}
	return validator.ValidateTemplate(tpl)
}
