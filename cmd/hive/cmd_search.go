package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"researchhive/internal/retrieval"
)

var (
	searchTopK  int
	searchTypes []string
)

var searchCmd = &cobra.Command{
	Use:   "search <query>...",
	Short: "Hybrid keyword+semantic search over the session",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearch,
}

func init() {
	searchCmd.Flags().IntVarP(&searchTopK, "top", "k", 0, "result count (default from config)")
	searchCmd.Flags().StringSliceVar(&searchTypes, "type", nil, "restrict to source types")
}

func runSearch(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	st, err := a.openSession()
	if err != nil {
		return err
	}
	filter, err := sourceTypeFilter(searchTypes)
	if err != nil {
		return err
	}

	query := strings.Join(args, " ")
	hits, err := a.retriever(st).Search(cmd.Context(), query, retrieval.Options{
		TopK:   searchTopK,
		Filter: filter,
	})
	if err != nil {
		return err
	}
	if len(hits) == 0 {
		fmt.Println("No results.")
		return nil
	}
	for i, h := range hits {
		fmt.Printf("%2d. %.4f  [%s] %s\n", i+1, h.Score, h.Chunk.SourceType, firstLine(h.Chunk.Text, 100))
	}
	return nil
}

func firstLine(text string, max int) string {
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[:i]
	}
	if len(text) > max {
		text = text[:max] + "…"
	}
	return text
}
