package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"bookrag/internal/app"
	"bookrag/internal/config"
	"bookrag/internal/extract"
	"bookrag/internal/indexer"
	"bookrag/internal/library"
	"bookrag/internal/rag"
	"bookrag/internal/storage"
)

// loader builds the application for one command invocation.
type loader func(ctx context.Context) (*app.App, *config.Config, error)

// cli carries the application between the root's pre-run hook and a subcommand.
type cli struct {
	load loader
	app  *app.App
	cfg  *config.Config
}

// newRootCmd builds the command tree. The returned function releases whatever
// the invoked command opened and must be called after Execute.
func newRootCmd(load loader) (*cobra.Command, func() error) {
	c := &cli{load: load}

	root := &cobra.Command{
		Use:          "ingest",
		Short:        "Index books and query the index",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			a, cfg, err := c.load(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to initialize: %w", err)
			}
			c.app, c.cfg = a, cfg
			return nil
		},
	}

	root.AddCommand(c.fileCmd(), c.dirCmd(), c.searchCmd(), c.booksCmd())
	return root, c.close
}

func (c *cli) close() error {
	if c.app == nil {
		return nil
	}
	err := c.app.Close()
	c.app = nil
	return err
}

func (c *cli) fileCmd() *cobra.Command {
	var slug, title, author, format string

	cmd := &cobra.Command{
		Use:   "file <path>",
		Short: "Ingest one book file",
		Long: `Ingests a plain text or markdown book. The slug and title default to
values derived from the file name. Re-running after a failure resumes from
the last committed batch.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if format == "" {
				f, ok := extract.FormatFromPath(path)
				if !ok {
					return fmt.Errorf("cannot infer format of %s, pass --format", path)
				}
				format = f
			}

			abs, err := filepath.Abs(path)
			if err != nil {
				return fmt.Errorf("failed to resolve %s: %w", path, err)
			}
			doc := library.Document{
				Slug:    firstNonEmpty(slug, library.SlugFromFilename(path)),
				Title:   firstNonEmpty(title, library.TitleFromFilename(path)),
				Format:  format,
				RelPath: filepath.Base(path),
				AbsPath: abs,
			}
			req, err := doc.Request()
			if err != nil {
				return err
			}
			req.Author = author

			return c.ingest(cmd, req)
		},
	}

	cmd.Flags().StringVar(&slug, "slug", "", "book slug (default: derived from file name)")
	cmd.Flags().StringVar(&title, "title", "", "book title (default: derived from file name)")
	cmd.Flags().StringVar(&author, "author", "", "book author")
	cmd.Flags().StringVar(&format, "format", "", "document format: text or markdown (default: from extension)")
	return cmd
}

func (c *cli) dirCmd() *cobra.Command {
	var keepGoing bool

	cmd := &cobra.Command{
		Use:   "dir [root]",
		Short: "Ingest every book under a directory",
		Long: `Scans a directory tree for .txt and .md books and ingests each one.
Without an argument the configured LIBRARY_PATH is scanned.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := c.cfg.LibraryPath
			if len(args) == 1 {
				root = args[0]
			}
			if root == "" {
				return errors.New("no directory given and LIBRARY_PATH is not set")
			}

			docs, err := library.Scan(cmd.Context(), root)
			if err != nil {
				return err
			}
			cmd.Printf("Found %d books in %s\n", len(docs), root)

			var errs []error
			for _, doc := range docs {
				req, err := doc.Request()
				if err == nil {
					err = c.ingest(cmd, req)
				}
				if err != nil {
					err = fmt.Errorf("%s: %w", doc.RelPath, err)
					if !keepGoing {
						return err
					}
					cmd.PrintErrf("Error: %v\n", err)
					errs = append(errs, err)
				}
			}
			return errors.Join(errs...)
		},
	}

	cmd.Flags().BoolVar(&keepGoing, "keep-going", false, "continue with the next book after a failure")
	return cmd
}

func (c *cli) ingest(cmd *cobra.Command, req indexer.IngestRequest) error {
	cmd.Printf("Ingesting %s...\n", req.Slug)
	run, err := c.app.Pipeline.Ingest(cmd.Context(), req)
	if err != nil {
		return fmt.Errorf("ingestion of %s failed: %w", req.Slug, err)
	}
	cmd.Printf("  run %s %s: %d embedded, %d skipped\n", run.ID, run.Status, run.ChunksProcessed, run.ChunksSkipped)
	return nil
}

func (c *cli) searchCmd() *cobra.Command {
	var (
		books     []string
		topK      int
		threshold float64
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the active books",
		Long: `Runs hybrid retrieval: vector similarity over chunk embeddings plus a
keyword pass for rare terms the embedding misses.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			retrieval, err := c.app.Retriever.Retrieve(cmd.Context(), query, rag.Options{
				BookSlugs:           books,
				TopK:                topK,
				SimilarityThreshold: threshold,
			})
			if err != nil {
				return fmt.Errorf("search failed: %w", err)
			}

			if asJSON {
				data, err := json.MarshalIndent(retrieval, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to marshal results: %w", err)
				}
				cmd.Println(string(data))
				return nil
			}
			printResults(cmd, retrieval.Results)
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&books, "book", "b", nil, "restrict to these book slugs")
	cmd.Flags().IntVarP(&topK, "top-k", "k", rag.DefaultTopK, "rows per search branch")
	cmd.Flags().Float64Var(&threshold, "threshold", rag.DefaultSimilarityThreshold, "minimum vector similarity")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output results as JSON")
	return cmd
}

func printResults(cmd *cobra.Command, results []storage.SearchResult) {
	if len(results) == 0 {
		cmd.Println("No results found.")
		return
	}
	for i, r := range results {
		cmd.Printf("  [%d] %s, page %d (%.2f)\n", i+1, r.BookTitle, r.PageNumber, r.Similarity)
		if r.SectionTitle != "" {
			cmd.Printf("      Section: %s\n", r.SectionTitle)
		}
		cmd.Printf("      %s\n", snippet(r.Content, 160))
	}
}

func snippet(s string, maxRunes int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	return string(runes[:maxRunes]) + "..."
}

func (c *cli) booksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "books",
		Short: "List active books with index statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			books, err := c.app.Books.ListActive(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list books: %w", err)
			}
			if len(books) == 0 {
				cmd.Println("No books indexed.")
				return nil
			}
			for _, b := range books {
				stats, err := c.app.Pipeline.BookStats(cmd.Context(), b.ID)
				if err != nil {
					return err
				}
				cmd.Printf("%-24s %s (%d chunks, mean %.1f tokens, index %s)\n",
					b.Slug, b.Title, stats.Chunks, stats.ChunkTokenStats.Mean, stats.IndexVersion)
			}
			return nil
		},
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
