//nolint:forbidigo // CLI command needs fmt.Print* for user output
package main

import (
	"fmt"
	"io"
	"reflect"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lattiam/batchanalysis/internal/config"
)

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage batchanalysis configuration",
		Long:  "View and validate the settings read from BATCHANALYSIS_* environment variables",
	}

	cmd.AddCommand(
		newConfigShowCommand(),
		newConfigValidateCommand(),
	)

	return cmd
}

func newConfigShowCommand() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		Long:  "Display the effective configuration including defaults and environment variables",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadStandardConfig()
			if err != nil {
				return err
			}

			switch format {
			case "json":
				_, err := fmt.Fprintln(cmd.OutOrStdout(), cfg.ToJSON())
				return err
			case "table":
				return displayConfigTable(cmd.OutOrStdout(), cfg)
			default:
				return fmt.Errorf("unknown format: %s. Supported formats: table, json", format)
			}
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "json", "Output format (table, json)")

	return cmd
}

func newConfigValidateCommand() *cobra.Command {
	var deploy bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		Long:  "Check that the configuration is valid; with --deploy, also check every setting deploy needs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadStandardConfig()
			if err != nil {
				return err
			}

			validate := cfg.Validate
			if deploy {
				validate = cfg.ValidateDeploy
			}
			if err := validate(); err != nil {
				return fmt.Errorf("configuration validation failed: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), "✓ Configuration is valid")
			return nil
		},
	}

	cmd.Flags().BoolVar(&deploy, "deploy", false, "Also check the settings deploy requires")
	return cmd
}

func displayConfigTable(out io.Writer, cfg *config.Config) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	_, _ = fmt.Fprintln(w, "SETTING\tVALUE\tDESCRIPTION")
	_, _ = fmt.Fprintln(w, "-------\t-----\t-----------")
	for _, v := range collectEnvVars(reflect.ValueOf(*cfg)) {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", v.name, v.value, v.description)
	}

	return w.Flush()
}

type envVar struct {
	name        string
	description string
	value       string
}

// collectEnvVars recursively collects environment variables from struct tags
func collectEnvVars(v reflect.Value) []envVar {
	var vars []envVar
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldValue := v.Field(i)

		if envTag := field.Tag.Get("env"); envTag != "" {
			vars = append(vars, envVar{
				name:        envTag,
				description: strings.Join(camelCaseToWords(field.Name), " "),
				value:       formatValue(fieldValue),
			})
			continue
		}

		if field.Type.Kind() == reflect.Struct {
			vars = append(vars, collectEnvVars(fieldValue)...)
		}
	}

	return vars
}

func formatValue(v reflect.Value) string {
	if v.Kind() == reflect.Slice {
		parts := make([]string, 0, v.Len())
		for i := 0; i < v.Len(); i++ {
			parts = append(parts, fmt.Sprint(v.Index(i).Interface()))
		}
		return strings.Join(parts, ",")
	}
	return fmt.Sprint(v.Interface())
}

// camelCaseToWords converts CamelCase to space-separated words
func camelCaseToWords(s string) []string {
	var words []string
	var currentWord []rune

	for i, r := range s {
		if i > 0 && r >= 'A' && r <= 'Z' {
			if len(currentWord) > 0 {
				words = append(words, string(currentWord))
			}
			currentWord = []rune{r}
		} else {
			currentWord = append(currentWord, r)
		}
	}

	if len(currentWord) > 0 {
		words = append(words, string(currentWord))
	}

	return words
}
