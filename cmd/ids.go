package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"graphbench/internal/cli"
	"graphbench/internal/sampler"
)

var idsCmd = &cobra.Command{
	Use:   "ids",
	Short: "Inspect and convert id files",
}

var idsInspectCmd = &cobra.Command{
	Use:   "inspect <pattern>",
	Short: "Load id files and print their shape",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := importIds(cmd, args[0])
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		fmt.Fprintln(w, cli.Title.Render("IDS "+args[0]))
		fmt.Fprintf(w, "%s %d\n", cli.Label.Render("Ids"), s.Size())
		if h, ok := s.(*sampler.HierarchicalSampler); ok {
			g := h.Graph()
			fmt.Fprintf(w, "%s %d\n", cli.Label.Render("Top-level"), h.TopLevelParentCount())
			fmt.Fprintf(w, "%s %d\n", cli.Label.Render("Relationships"), g.RelationshipCount())
			fmt.Fprintf(w, "%s %d\n", cli.Label.Render("Max depth"), h.MaxDepth())
		}
		if err := sampler.CheckIdsExists(s); err != nil {
			fmt.Fprintln(w, cli.Warn.Render(err.Error()))
		}
		return nil
	},
}

var idsConvertCmd = &cobra.Command{
	Use:   "convert <pattern> <out>",
	Short: "Merge id files into one normalised file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := importIds(cmd, args[0])
		if err != nil {
			return err
		}
		if err := exportIds(s, args[1]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %d ids to %s\n", s.Size(), args[1])
		return nil
	},
}

func init() {
	idsCmd.PersistentFlags().Bool("flat", false, "treat ids as a flat list")
	idsCmd.PersistentFlags().Int("budget", 0, "stop after this many distinct ids (0 = unlimited)")
	idsConvertCmd.Flags().Int("paths", 0, "paths exported per top-level id (0 = default)")
	idsCmd.AddCommand(idsInspectCmd, idsConvertCmd)
}

func importIds(cmd *cobra.Command, pattern string) (sampler.IdSupplier, error) {
	flat, _ := cmd.Flags().GetBool("flat")
	budget, _ := cmd.Flags().GetInt("budget")
	opts := []sampler.Option{sampler.WithBudget(budget)}
	if cmd.Flags().Lookup("paths") != nil {
		if n, _ := cmd.Flags().GetInt("paths"); n > 0 {
			opts = append(opts, sampler.WithExportPaths(n))
		}
	}

	s := newSupplier(flat, opts)
	if err := s.Import(pattern); err != nil {
		return nil, err
	}
	return s, nil
}
