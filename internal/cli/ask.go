package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"healthai/internal/domain"
	"healthai/internal/tui"
)

func newAskCmd(opts *rootOptions) *cobra.Command {
	var (
		docs    []string
		sources bool
		format  string
	)
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer one question from the knowledge base",
		Long: "Answer a single question. With the in-memory store the knowledge base is loaded first " +
			"from --docs or the configured knowledge path.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "text" && format != "json" {
				return fmt.Errorf("%w: unknown format %q", domain.ErrInvalidInput, format)
			}
			a, err := opts.open(cmd, buildOptions{s3: anyS3(docs)})
			if err != nil {
				return err
			}
			defer a.Close()
			if err := preload(cmd, a, docs); err != nil {
				return err
			}

			session := uuid.NewString()
			defer a.svc.Drop(session)
			res, err := a.svc.SubmitTurn(cmd.Context(), session, strings.Join(args, " "))
			if format == "json" {
				if werr := writeJSON(cmd.OutOrStdout(), res); werr != nil {
					return werr
				}
				return err
			}
			if err != nil {
				return fmt.Errorf("%s: %w", res.ErrorKind, err)
			}
			writeAnswer(cmd.OutOrStdout(), res, sources)
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&docs, "docs", "d", nil, "Documents to load before answering")
	cmd.Flags().BoolVarP(&sources, "sources", "s", false, "Print the sources the answer was grounded on")
	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format: text or json")
	return cmd
}

func writeAnswer(w io.Writer, res domain.TurnResult, sources bool) {
	fmt.Fprintln(w, res.Answer)
	if !sources {
		return
	}
	if len(res.Sources) == 0 {
		fmt.Fprintln(w, "\nNo sources: the knowledge base had nothing on this question.")
		return
	}
	fmt.Fprintln(w, "\nSources:")
	for i, s := range res.Sources {
		fmt.Fprintf(w, "[%d] %s (%s, score %.3f)\n    %s\n", i+1, s.Title, s.ChunkID, s.Score, s.Preview)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newChatCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "chat [paths...]",
		Short: "Chat with the assistant in the terminal",
		Long:  "Start an interactive conversation. Paths given are ingested first; with the in-memory store the configured knowledge path is used when none are given.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cmd, buildOptions{s3: anyS3(args)})
			if err != nil {
				return err
			}
			defer a.Close()
			if err := preload(cmd, a, args); err != nil {
				return err
			}
			summary, err := a.svc.KnowledgeSummary()
			if err != nil {
				return err
			}
			session := uuid.NewString()
			defer a.svc.Drop(session)
			m := tui.New(a.svc, session, summary)
			_, err = tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(cmd.Context())).Run()
			return err
		},
	}
}
