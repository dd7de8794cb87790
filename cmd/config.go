package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and change configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		// Load through the store so durable overrides are included.
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		shown := *cfg
		shown.Analysis.Key = redactSecret(shown.Analysis.Key)
		shown.Graph.APISecret = redactSecret(shown.Graph.APISecret)
		shown.Browser.ProxyPass = redactSecret(shown.Browser.ProxyPass)

		out, err := yaml.Marshal(shown)
		if err != nil {
			return eris.Wrap(err, "marshal config")
		}
		fmt.Fprint(cmd.OutOrStdout(), string(out))
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Persist a configuration override",
	Long:  "Stores a dotted config key (e.g. scrape.delay_secs) in the database. Overrides survive restarts and layer over the config file.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.SetSetting(ctx, args[0], args[1]); err != nil {
			return err
		}
		return printJSON(map[string]string{args[0]: args[1]})
	},
}

func redactSecret(s string) string {
	if s == "" {
		return ""
	}
	return "[redacted]"
}

func init() {
	configCmd.AddCommand(configShowCmd, configSetCmd)
	rootCmd.AddCommand(configCmd)
}
