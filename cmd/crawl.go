package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/customs-regdocs/internal/service"
)

// errCommandFailed marks a command whose Result was already printed.
var errCommandFailed = errors.New("command failed")

// newCrawlCmd creates and configures the 'crawl' subcommand.
// It walks the listing synchronously and prints the final progress as a Result.
func newCrawlCmd() *cobra.Command {
	var req service.CrawlRequest
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawls the document registry once",
		Long: `Walks the registry listing from --from-page, saves every document it
finds and submits extraction jobs for documents with attachments. Zero
bounds take the configured defaults.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := appInstance.RequireSharedQueue(); err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), appInstance.Crawls().Run(cmd.Context(), req))
		},
	}
	cmd.Flags().IntVar(&req.FromPage, "from-page", 1, "first listing page")
	cmd.Flags().IntVar(&req.MaxPages, "max-pages", 0, "number of listing pages to walk")
	cmd.Flags().IntVar(&req.MaxDocuments, "max-documents", 0, "stop after this many listing entries (0 = unbounded)")
	return cmd
}

// newProcessCmd creates the 'process' subcommand.
func newProcessCmd() *cobra.Command {
	var (
		id   int64
		text string
	)
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Runs extraction for one document",
		Long: `Downloads the document's attachment and extracts HS codes and product
names from it. With --text the supplied text is analyzed instead.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := appInstance.RequireSharedQueue(); err != nil {
				return err
			}
			docs := appInstance.Documents()
			if cmd.Flags().Changed("text") {
				return printResult(cmd.OutOrStdout(), docs.SubmitText(cmd.Context(), id, text))
			}
			return printResult(cmd.OutOrStdout(), docs.ProcessDocument(cmd.Context(), id))
		},
	}
	cmd.Flags().Int64Var(&id, "id", 0, "document id")
	cmd.Flags().StringVar(&text, "text", "", "analyze this text instead of the attachment")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

// printResult writes res as indented JSON and turns a failed Result into an error.
func printResult(w io.Writer, res service.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	if !res.Success {
		return fmt.Errorf("%w: %s", errCommandFailed, res.Message)
	}
	return nil
}
