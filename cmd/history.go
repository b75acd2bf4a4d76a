package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"graphbench/internal/cli"
	"graphbench/internal/report"
	"graphbench/internal/storage"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List past runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withHistory(func(s *storage.Store) error {
			items, err := s.List()
			if err != nil {
				return err
			}
			renderHistory(cmd.OutOrStdout(), items)
			return nil
		})
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print a past run as YAML",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withHistory(func(s *storage.Store) error {
			item, err := s.Get(args[0])
			if err != nil {
				return err
			}
			return report.ExportYAML(cmd.OutOrStdout(), report.Document{Config: item.Config, Summary: item.Summary})
		})
	},
}

var historyExportCmd = &cobra.Command{
	Use:   "export <id> <prefix>",
	Short: "Write reports for a past run",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, _ := cmd.Flags().GetString("formats")
		formats, err := report.ParseFormats(f)
		if err != nil {
			return err
		}
		return withHistory(func(s *storage.Store) error {
			item, err := s.Get(args[0])
			if err != nil {
				return err
			}
			paths, err := report.WriteFiles(args[1], report.Document{Config: item.Config, Summary: item.Summary}, formats)
			for _, p := range paths {
				fmt.Fprintln(cmd.OutOrStdout(), p)
			}
			return err
		})
	},
}

var historyDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Remove a past run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withHistory(func(s *storage.Store) error {
			item, err := s.Get(args[0])
			if err != nil {
				return err
			}
			return s.Delete(item.ID)
		})
	},
}

func init() {
	historyExportCmd.Flags().String("formats", "json,yaml,csv", "report formats")
	historyCmd.AddCommand(historyShowCmd, historyExportCmd, historyDeleteCmd)
}

func withHistory(fn func(*storage.Store) error) error {
	s, err := openHistory()
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s)
}

func renderHistory(w io.Writer, items []storage.HistoryItem) {
	if len(items) == 0 {
		fmt.Fprintln(w, cli.Subtle.Render("no runs recorded"))
		return
	}

	rows := make([][]string, 0, len(items))
	for _, it := range items {
		s := it.Summary
		state := s.State
		if s.Aborted {
			state = "aborted"
		}
		rows = append(rows, []string{
			it.ID[:8],
			it.Timestamp.Format(time.DateTime),
			s.Name,
			s.Unit,
			fmt.Sprintf("%d", s.TargetRate),
			fmt.Sprintf("%.1f", s.CallsPerSec),
			fmt.Sprintf("%d/%d/%d", s.Success, s.Errors, s.AbortedCalls),
			fmt.Sprintf("%.2f", s.Latency.P99Ms),
			state,
		})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(cli.ColorSubtle)).
		Headers("ID", "WHEN", "NAME", "UNIT", "RATE", "CALLS/S", "OK/ERR/ABT", "P99 MS", "STATE").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return lipgloss.NewStyle().Foreground(cli.ColorPrimary).Bold(true).Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})
	fmt.Fprintln(w, t.Render())
}
