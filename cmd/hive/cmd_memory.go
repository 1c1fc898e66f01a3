package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"researchhive/internal/memory"
	"researchhive/internal/types"
)

var (
	memoryPack   string
	memoryTags   []string
	memorySource string
	memoryScope  string
	memoryTopK   int
)

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Cross-session global memory",
}

var memoryPromoteCmd = &cobra.Command{
	Use:   "promote",
	Short: "Promote session chunks into global memory",
	Long: `Copies chunks from the current session into the hive mind under a
domain pack. Promotion is idempotent: re-promoting a chunk overwrites
the stored copy with the latest content. The session's own chunks are
unaffected.`,
	RunE: runMemoryPromote,
}

var memoryQueryCmd = &cobra.Command{
	Use:   "query <query>...",
	Short: "Hybrid search over global memory",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runMemoryQuery,
}

func init() {
	memoryPromoteCmd.Flags().StringVar(&memoryPack, "pack", "", "domain pack (required)")
	memoryPromoteCmd.Flags().StringSliceVar(&memoryTags, "tag", nil, "free-form tags")
	memoryPromoteCmd.Flags().StringVar(&memorySource, "source", "", "promote only chunks of this source id")
	memoryPromoteCmd.MarkFlagRequired("pack")

	memoryQueryCmd.Flags().StringVar(&memoryScope, "scope", string(memory.ScopeHive), "scope: hive, pack, session")
	memoryQueryCmd.Flags().StringVar(&memoryPack, "pack", "", "pack name (scope=pack) or session id (scope=session)")
	memoryQueryCmd.Flags().IntVarP(&memoryTopK, "top", "k", 0, "result count (default from config)")

	memoryCmd.AddCommand(memoryPromoteCmd)
	memoryCmd.AddCommand(memoryQueryCmd)
}

func runMemoryPromote(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	st, err := a.openSession()
	if err != nil {
		return err
	}
	svc, err := a.memoryService()
	if err != nil {
		return err
	}

	chunks, err := st.ChunksForPromotion(memorySource)
	if err != nil {
		return err
	}
	if len(chunks) == 0 {
		fmt.Println("Nothing to promote.")
		return nil
	}

	n, err := svc.Promote(cmd.Context(), a.sessID, chunks, memoryPack, memoryTags)
	if err != nil {
		return err
	}
	fmt.Printf("Promoted %d chunks into pack %q (%d new)\n", len(chunks), memoryPack, n)
	return nil
}

func runMemoryQuery(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	svc, err := a.memoryService()
	if err != nil {
		return err
	}

	hits, err := svc.Query(cmd.Context(), memory.Scope(memoryScope), memoryPack,
		strings.Join(args, " "), types.SearchFilter{}, memoryTopK)
	if err != nil {
		return err
	}
	if len(hits) == 0 {
		fmt.Println("No results.")
		return nil
	}
	for i, h := range hits {
		fmt.Printf("%2d. %.4f  %s\n", i+1, h.Score, firstLine(h.Chunk.Text, 100))
	}
	return nil
}
