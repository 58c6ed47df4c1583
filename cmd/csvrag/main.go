package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"csvrag/internal/domain"
	"csvrag/internal/index"
	"csvrag/internal/tui"
)

var (
	cfgPath string
	verbose bool
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "csvrag [file.csv]",
		Short: "Chat with a CSV file through a local model server",
		Long: `csvrag loads a delimited file, splits it into row groups, embeds each group
with a local embedding model and answers questions using the most similar groups
as context.

Run with a file argument to start the interactive chat.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return cmd.Help()
			}
			return runChat(cmd.Context(), args[0])
		},
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "Path to YAML config file (default ./config.yaml or ~/.config/csvrag/config.yaml)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	root.AddCommand(
		chatCmd(),
		askCmd(),
		summarizeCmd(),
		statsCmd(),
		previewCmd(),
		searchCmd(),
		serveCmd(),
	)
	return root
}

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat <file.csv>",
		Short: "Start the interactive chat (default)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), args[0])
		},
	}
}

func runChat(ctx context.Context, file string) error {
	var prog *tea.Program
	progress := index.WithProgress(func(current, total int) {
		if prog != nil {
			prog.Send(tui.ProgressMsg{Current: current, Total: total})
		}
	})

	a, err := newApp(ctx, file, true, progress)
	if err != nil {
		return err
	}
	defer a.Close()

	sess := domain.NewSession(a.cfg.Completion.Model, a.cfg.Embedder.Model)
	m := tui.New(ctx, a.pipeline, sess, filepath.Base(file), a.cfg.Completion.Models)
	prog = tea.NewProgram(m, tea.WithAltScreen())
	_, err = prog.Run()
	return err
}

func askCmd() *cobra.Command {
	var embed bool
	cmd := &cobra.Command{
		Use:   "ask <file.csv> <question>",
		Short: "Answer one question about a file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), args[0], false)
			if err != nil {
				return err
			}
			defer a.Close()

			if embed {
				if err := a.embed(cmd.Context()); err != nil {
					return err
				}
			}
			sess := domain.NewSession(a.cfg.Completion.Model, a.cfg.Embedder.Model)
			_, answer, err := a.pipeline.Ask(cmd.Context(), sess, args[1])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), answer)
			return nil
		},
	}
	cmd.Flags().BoolVar(&embed, "embed", true, "Embed the file and retrieve relevant rows instead of a leading sample")
	return cmd
}

func summarizeCmd() *cobra.Command {
	var embed bool
	cmd := &cobra.Command{
		Use:   "summarize <file.csv>",
		Short: "Ask the chat model for an overview of a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), args[0], false)
			if err != nil {
				return err
			}
			defer a.Close()

			if embed {
				if err := a.embed(cmd.Context()); err != nil {
					return err
				}
			}
			out, err := a.pipeline.Summarize(cmd.Context(), domain.NewSession(a.cfg.Completion.Model, a.cfg.Embedder.Model))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().BoolVar(&embed, "embed", false, "Embed the file first and use retrieved rows as context")
	return cmd
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats <file.csv>",
		Short: "Print the statistical summary and per-column profiles",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), args[0], false)
			if err != nil {
				return err
			}
			defer a.Close()

			summary, err := a.pipeline.Summary()
			if err != nil {
				return err
			}
			stats, err := a.pipeline.Stats()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, summary)
			if len(stats) == 0 {
				return nil
			}
			fmt.Fprintf(out, "\n%-20s %8s %12s %12s %12s %12s %12s\n", "Column", "Count", "Mean", "Median", "Min", "Max", "StdDev")
			for _, s := range stats {
				p := s.Profile
				fmt.Fprintf(out, "%-20s %8d %12.2f %12.2f %12.2f %12.2f %12.2f\n", s.Column, p.Count, p.Mean, p.Median, p.Min, p.Max, p.StdDev)
			}
			return nil
		},
	}
}

func previewCmd() *cobra.Command {
	var rows int
	cmd := &cobra.Command{
		Use:   "preview <file.csv>",
		Short: "Print the first rows as a table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), args[0], false)
			if err != nil {
				return err
			}
			defer a.Close()

			out, err := a.pipeline.Preview(rows)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().IntVarP(&rows, "rows", "n", 20, "Number of rows to show")
	return cmd
}

func searchCmd() *cobra.Command {
	var top int
	cmd := &cobra.Command{
		Use:   "search <file.csv> <query>",
		Short: "Embed a file and print the chunks most similar to a query",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), args[0], false)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.embed(cmd.Context()); err != nil {
				return err
			}
			if top <= 0 {
				top = a.cfg.Retrieval.TopK
			}
			results, err := a.pipeline.Query(cmd.Context(), args[1], "", top)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for i, r := range results {
				fmt.Fprintf(out, "#%d  chunk=%d  score=%.4f\n%s\n\n", i+1, r.Chunk.Index, r.Score, r.Chunk.Text)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&top, "top", "k", 0, "Number of chunks to return (default retrieval.top_k)")
	return cmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the local model server and keep it running until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), "", false)
			if err != nil {
				return err
			}
			defer a.Close()
			defer a.server.Stop()

			timeout := time.Duration(a.cfg.Ollama.StartTimeoutSecs) * time.Second
			if !a.server.Start(cmd.Context(), timeout) {
				return fmt.Errorf("model server at %s not reachable after %s", a.cfg.Ollama.BaseURL, timeout)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Model server running at %s (Ctrl+C to stop)\n", a.cfg.Ollama.BaseURL)
			<-cmd.Context().Done()
			return nil
		},
	}
}
