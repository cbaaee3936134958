package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opencode-ai/diffview/internal/config"
	"github.com/opencode-ai/diffview/internal/storage"
)

var debugCmd = &cobra.Command{
	Use:   "debug",
	Short: "Debug utilities",
	Long:  `Debug utilities for troubleshooting diffview configuration and setup.`,
}

var debugConfigSave bool

var debugConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the merged configuration",
	Long: `Print the configuration merged from the global file, the project file and
DIFFVIEW_* environment variables. --save writes it to the project file.`,
	RunE: runDebugConfig,
}

var debugPathsCmd = &cobra.Command{
	Use:   "paths",
	Short: "Show system paths",
	RunE:  runDebugPaths,
}

func init() {
	debugConfigCmd.Flags().BoolVar(&debugConfigSave, "save", false, "Write the merged configuration to the project config file")
	debugCmd.AddCommand(debugConfigCmd)
	debugCmd.AddCommand(debugPathsCmd)
}

func runDebugConfig(cmd *cobra.Command, args []string) error {
	root, cfg, err := setup()
	if err != nil {
		return err
	}

	if debugConfigSave {
		path := config.ProjectConfigPath(root)
		if err := config.Save(cfg, path); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
		return nil
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

func runDebugPaths(cmd *cobra.Command, args []string) error {
	root, err := GetWorkDir(workDir)
	if err != nil {
		return err
	}
	paths := config.GetPaths()
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, "diffview System Paths:")
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  Config:   %s\n", config.GetConfigDir())
	fmt.Fprintf(out, "  Data:     %s\n", paths.Data)
	fmt.Fprintf(out, "  Cache:    %s\n", paths.Cache)
	fmt.Fprintf(out, "  State:    %s\n", paths.State)
	fmt.Fprintf(out, "  Storage:  %s\n", paths.StoragePath())
	fmt.Fprintf(out, "  Logs:     %s\n", paths.LogPath())
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  Project:  %s\n", root)
	fmt.Fprintf(out, "  History:  review/%s\n", storage.ProjectKey(root))
	fmt.Fprintf(out, "  Config:   %s\n", config.ProjectConfigPath(root))
	return nil
}
