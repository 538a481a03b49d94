package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/straightup/internal/settings"
	"github.com/srg/straightup/pkg/config"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or change the feedback settings",
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current settings",
	Args:  cobra.NoArgs,
	RunE:  runSettingsShow,
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <field> <value>",
	Short: "Change one setting",
	Long: `Change one setting and persist it. Fields:

  vibration_intensity    0-100
  vibrate_on_device      true/false
  notifications_enabled  true/false
  sound_enabled          true/false
  posture_goal_hours     1-24`,
	Example: `  straightup settings set vibration_intensity 40`,
	Args:    cobra.ExactArgs(2),
	RunE:    runSettingsSet,
}

var settingsFormat string

func init() {
	settingsShowCmd.Flags().StringVarP(&settingsFormat, "format", "f", "table", "Output format (table, json)")

	settingsCmd.AddCommand(settingsShowCmd)
	settingsCmd.AddCommand(settingsSetCmd)
}

// openSettingsStore opens the settings file named by the configuration.
func openSettingsStore(cfg *config.Config, logger *logrus.Logger) (*settings.FileStore, error) {
	path, err := cfg.SettingsPath()
	if err != nil {
		return nil, err
	}
	st, err := settings.Open(path, logger)
	if err != nil {
		return nil, fmt.Errorf("open settings %s: %w", path, err)
	}
	return st, nil
}

func runSettingsShow(cmd *cobra.Command, _ []string) error {
	if err := checkFormat(settingsFormat); err != nil {
		return err
	}
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	st, err := openSettingsStore(cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	current := st.Current()
	out := cmd.OutOrStdout()
	if settingsFormat == "json" {
		return writeJSON(out, current)
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, key := range settings.Keys() {
		value, err := current.Get(key)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "%s\t%s\n", key, value)
	}
	return tw.Flush()
}

func runSettingsSet(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	st, err := openSettingsStore(cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	key, value := args[0], args[1]
	if err := st.Set(key, value); err != nil {
		return err
	}
	stored, err := st.Current().Get(key)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", key, stored)
	return nil
}
