package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"healthai/internal/domain"
	"healthai/internal/logger"
	"healthai/internal/source"
)

func newInitCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the knowledge base collection",
		Long:  "Create the vector collection sized to the configured embedding model. Safe to repeat.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cmd, buildOptions{})
			if err != nil {
				return err
			}
			defer a.Close()
			dim, err := a.svc.EnsureIndex(cmd.Context())
			if err != nil {
				return fmt.Errorf("init: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "collection %q ready (%d dimensions)\n", a.cfg.VectorStore.Collection, dim)
			return nil
		},
	}
}

func newIngestCmd(opts *rootOptions) *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "ingest [paths | s3://bucket/prefix]...",
		Short: "Ingest documents into the knowledge base",
		Long: "Ingest text, Markdown, HTML and PDF files, directories, globs or S3 prefixes. " +
			"Re-ingesting a document replaces its records. With --watch, keep re-ingesting a directory as files change.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cmd, buildOptions{s3: anyS3(args)})
			if err != nil {
				return err
			}
			defer a.Close()
			if len(args) == 0 {
				args = []string{a.cfg.Ingest.KnowledgePath}
			}
			if _, err := a.svc.EnsureIndex(cmd.Context()); err != nil {
				return err
			}
			if err := ingestInto(cmd, a, args); err != nil {
				return err
			}
			if !watch {
				return nil
			}
			if len(args) != 1 || source.IsS3URI(args[0]) {
				return fmt.Errorf("%w: --watch needs exactly one local directory", domain.ErrInvalidInput)
			}
			return watchDir(cmd, a, args[0])
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Keep watching the directory and re-ingest changed files")
	return cmd
}

func anyS3(paths []string) bool {
	for _, p := range paths {
		if source.IsS3URI(p) {
			return true
		}
	}
	return false
}

func ingestInto(cmd *cobra.Command, a *app, paths []string) error {
	out := cmd.OutOrStdout()
	results, err := a.svc.IngestPaths(cmd.Context(), paths)
	for _, r := range results {
		status := "ok"
		if !r.Complete() {
			status = fmt.Sprintf("%d chunks failed", len(r.Failed))
		}
		if len(r.Skipped) > 0 {
			status += fmt.Sprintf(", %d blank skipped", len(r.Skipped))
		}
		fmt.Fprintf(out, "%s  %-40s %d/%d chunks  %s\n", r.DocumentID, r.Title, len(r.Indexed), r.Chunks, status)
	}
	if err != nil {
		return fmt.Errorf("ingest: %w", err)
	}
	if summary, serr := a.svc.KnowledgeSummary(); serr == nil && summary != "" {
		logger.Info("knowledge base summary: %s", summary)
	}
	return nil
}

func watchDir(cmd *cobra.Command, a *app, dir string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "watching %s (Ctrl+C to stop)\n", dir)
	return source.Watch(ctx, dir, source.DefaultDebounce, func(c source.Change) {
		if c.Removed {
			if err := a.svc.Purge(ctx, source.DocumentID(c.Path)); err != nil {
				logger.Warn("purge %s: %v", c.Path, err)
				return
			}
			fmt.Fprintf(out, "removed %s\n", c.Path)
			return
		}
		raw, err := source.LoadFile(c.Path)
		if err != nil {
			logger.Warn("%v", err)
			return
		}
		res, err := a.svc.IngestDocument(ctx, raw)
		if err != nil {
			logger.Warn("ingest %s: %v", c.Path, err)
			return
		}
		fmt.Fprintf(out, "re-indexed %s (%d/%d chunks)\n", c.Path, len(res.Indexed), res.Chunks)
	})
}

func newPurgeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "purge <document-id | path>...",
		Short: "Remove documents from the knowledge base",
		Long:  "Remove every record of the given documents. A file path is mapped to the id it was ingested under.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cmd, buildOptions{})
			if err != nil {
				return err
			}
			defer a.Close()
			for _, arg := range args {
				id := arg
				if _, err := os.Stat(arg); err == nil {
					id = source.DocumentID(arg)
				}
				if err := a.svc.Purge(cmd.Context(), id); err != nil {
					return fmt.Errorf("purge %s: %w", arg, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "purged %s\n", id)
			}
			return nil
		},
	}
}
