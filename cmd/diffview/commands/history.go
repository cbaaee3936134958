package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/opencode-ai/diffview/internal/config"
	"github.com/opencode-ai/diffview/internal/storage"
	"github.com/opencode-ai/diffview/pkg/types"
)

var (
	historyPath   string
	historyStatus string
	historyLimit  int
	historyFormat string
	historyKeep   int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List closed reviews of this project",
	Long: `List approved and rejected reviews of the project root, most recent first.
--path takes a glob such as 'internal/**/*.go'.`,
	RunE: runHistory,
}

var historyPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete all but the most recent review records",
	Args:  cobra.NoArgs,
	RunE:  runHistoryPrune,
}

func init() {
	historyCmd.Flags().StringVar(&historyPath, "path", "", "Only reviews whose path matches this glob")
	historyCmd.Flags().StringVar(&historyStatus, "status", "", "Only reviews with this status (approved|rejected)")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Maximum number of reviews (0 for all)")
	historyCmd.Flags().StringVarP(&historyFormat, "format", "o", "table", "Output format (table|json|yaml)")

	historyPruneCmd.Flags().IntVar(&historyKeep, "keep", 100, "Number of records to keep")
	historyCmd.AddCommand(historyPruneCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	root, _, err := setup()
	if err != nil {
		return err
	}

	history := storage.NewHistory(storage.New(config.GetPaths().StoragePath()), root)
	records, err := history.List(context.Background(), storage.HistoryFilter{
		Path:   historyPath,
		Status: types.ReviewStatus(historyStatus),
		Limit:  historyLimit,
	})
	if err != nil {
		return err
	}
	return writeHistory(cmd.OutOrStdout(), records, historyFormat)
}

func runHistoryPrune(cmd *cobra.Command, args []string) error {
	root, _, err := setup()
	if err != nil {
		return err
	}

	history := storage.NewHistory(storage.New(config.GetPaths().StoragePath()), root)
	removed, err := history.Prune(context.Background(), historyKeep)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %d review record(s)\n", removed)
	return nil
}

// writeHistory renders records in format.
func writeHistory(w io.Writer, records []types.ReviewRecord, format string) error {
	if records == nil {
		records = []types.ReviewRecord{}
	}
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	case "yaml":
		// Round-trip through JSON so the YAML keys follow the json tags
		data, err := json.Marshal(records)
		if err != nil {
			return err
		}
		var generic any
		if err := json.Unmarshal(data, &generic); err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(generic); err != nil {
			return err
		}
		return enc.Close()
	case "table", "":
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tSTATUS\tTYPE\tPATH\tCHANGES\tCLOSED")
		for _, r := range records {
			closed := "-"
			if r.Time.Closed != nil {
				closed = time.UnixMilli(*r.Time.Closed).Format(time.DateTime)
			}
			status := string(r.Status)
			if r.Error != "" {
				status += "!"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t+%d -%d\t%s\n", r.ID, status, r.EditType, r.Path, r.Additions, r.Deletions, closed)
		}
		return tw.Flush()
	}
	return fmt.Errorf("unknown format %q (want table, json or yaml)", format)
}
