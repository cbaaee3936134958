package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/opencode-ai/diffview/internal/patch"
	"github.com/opencode-ai/diffview/internal/review"
	"github.com/opencode-ai/diffview/pkg/types"
)

var (
	applyFrom   string
	applyCreate bool
	applyChunk  int
	applyDelay  time.Duration
	applyReject bool
	applyNoDiff bool
	applyNoFmt  bool
)

var applyCmd = &cobra.Command{
	Use:   "apply <path>",
	Short: "Stream a file's new content through a review and save it",
	Long: `Open a review of <path> (relative to the project root), stream the content
of --from into it a few lines at a time, then approve it and print what the
save produced: the patch, edits made during review, format-on-save edits and
new diagnostics. With --reject the file is reverted instead.`,
	Args: cobra.ExactArgs(1),
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringVarP(&applyFrom, "from", "f", "", "File with the new content ('-' for stdin)")
	applyCmd.Flags().BoolVar(&applyCreate, "create", false, "Create the file instead of modifying it")
	applyCmd.Flags().IntVar(&applyChunk, "chunk", 5, "Lines per streamed update (0 sends everything at once)")
	applyCmd.Flags().DurationVar(&applyDelay, "delay", 0, "Pause between streamed updates")
	applyCmd.Flags().BoolVar(&applyReject, "reject", false, "Revert instead of saving")
	applyCmd.Flags().BoolVar(&applyNoDiff, "no-diff", false, "Do not print the patch")
	applyCmd.Flags().BoolVar(&applyNoFmt, "no-format", false, "Skip format on save")
	applyCmd.MarkFlagRequired("from")
}

func runApply(cmd *cobra.Command, args []string) error {
	content, err := readSource(cmd.InOrStdin(), applyFrom)
	if err != nil {
		return err
	}

	root, cfg, err := setup()
	if err != nil {
		return err
	}
	a, err := newApp(root, cfg)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	defer a.close(context.Background())
	if applyNoFmt {
		a.format.SetEnabled(false)
	}

	rel := args[0]
	before := ""
	if !applyCreate {
		data, err := os.ReadFile(filepath.Join(root, rel))
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		before = string(data)
	}

	out := cmd.OutOrStdout()
	info, err := a.reviews.Open(ctx, review.OpenRequest{Path: rel, Create: applyCreate})
	if err != nil {
		return err
	}

	for _, prefix := range chunkPrefixes(content, applyChunk) {
		if _, err := a.reviews.Update(ctx, info.ID, prefix, false); err != nil {
			return err
		}
		if applyDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(applyDelay):
			}
		}
	}
	if _, err := a.reviews.Update(ctx, info.ID, content, true); err != nil {
		return err
	}

	if applyReject {
		if _, err := a.reviews.Reject(ctx, info.ID); err != nil {
			return err
		}
		fmt.Fprintf(out, "Rejected %s\n", info.Path)
		return nil
	}

	res, err := a.reviews.Approve(ctx, info.ID)
	if err != nil {
		return err
	}
	printResult(out, info.Path, before, res, !applyNoDiff)
	return nil
}

func readSource(stdin io.Reader, from string) (string, error) {
	if from == "-" {
		data, err := io.ReadAll(stdin)
		return string(data), err
	}
	data, err := os.ReadFile(from)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// chunkPrefixes returns the growing prefixes of content that end every n
// complete lines, excluding content itself.
func chunkPrefixes(content string, n int) []string {
	if n <= 0 {
		return nil
	}
	lines := strings.SplitAfter(content, "\n")
	var out []string
	size := 0
	for i, line := range lines {
		size += len(line)
		if (i+1)%n == 0 && size < len(content) {
			out = append(out, content[:size])
		}
	}
	return out
}

// printResult writes the outcome of an approved review.
func printResult(w io.Writer, path, before string, res *types.ReviewResult, showDiff bool) {
	added, removed := patch.Stats(before, res.FinalContent)
	fmt.Fprintf(w, "Saved %s (+%d -%d)\n", path, added, removed)
	if showDiff && added+removed > 0 {
		fmt.Fprintln(w)
		fmt.Fprint(w, patch.Unified(path, before, res.FinalContent))
	}
	if res.UserEdits != "" {
		fmt.Fprintf(w, "\nEdited during review:\n%s", res.UserEdits)
	}
	if res.AutoFormattingEdits != "" {
		fmt.Fprintf(w, "\nFormat on save:\n%s", res.AutoFormattingEdits)
	}
	if res.NewProblemsMessage != "" {
		fmt.Fprintf(w, "\n%s\n", strings.TrimRight(res.NewProblemsMessage, "\n"))
	}
}
