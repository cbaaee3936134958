// Package commands provides the CLI commands for diffview.
package commands

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/opencode-ai/diffview/internal/config"
	"github.com/opencode-ai/diffview/internal/logging"
	"github.com/opencode-ai/diffview/pkg/types"
)

var (
	// Version information set at build time
	Version   = "0.1.0"
	BuildTime = "dev"
)

// Global flags
var (
	printLogs bool
	logLevel  string
	workDir   string
)

var rootCmd = &cobra.Command{
	Use:   "diffview",
	Short: "diffview - review streamed file edits before they land",
	Long: `diffview shows proposed file edits as a live diff while they stream in,
lets a reviewer edit them, and saves or reverts the file when the review ends.

Run 'diffview serve' for the HTTP API, 'diffview mcp' for the MCP tool server,
or 'diffview apply' to stream a file through a review from the command line.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&printLogs, "print-logs", false, "Print logs to stderr")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (DEBUG|INFO|WARN|ERROR)")
	rootCmd.PersistentFlags().StringVarP(&workDir, "directory", "C", "", "Project root (default: current directory)")

	rootCmd.SetVersionTemplate(fmt.Sprintf("diffview %s (%s)\n", Version, BuildTime))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(debugCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// GetWorkDir returns the working directory from flag or current directory.
func GetWorkDir(dir string) (string, error) {
	if dir != "" {
		return filepath.Abs(dir)
	}
	return os.Getwd()
}

// loadEnv loads .env from the project root. A missing file is fine.
func loadEnv(root string) error {
	err := godotenv.Load(filepath.Join(root, ".env"))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

// setup resolves the project root, loads .env and configuration and
// initializes logging.
func setup() (string, *types.Config, error) {
	root, err := GetWorkDir(workDir)
	if err != nil {
		return "", nil, err
	}
	if err := loadEnv(root); err != nil {
		return "", nil, err
	}

	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		return "", nil, err
	}

	cfg, err := config.Load(root)
	if err != nil {
		return "", nil, err
	}
	initLogging(cfg, paths)
	return root, cfg, nil
}

func initLogging(cfg *types.Config, paths *config.Paths) {
	level := cfg.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	logCfg := logging.DefaultConfig()
	logCfg.Level = logging.ParseLevel(level)
	logCfg.LogToFile = cfg.LogFile
	logCfg.LogDir = paths.LogPath()
	if printLogs {
		logCfg.Pretty = true
	} else {
		logCfg.Output = io.Discard
	}
	logging.Init(logCfg)
}
