package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"researchhive/internal/llm"
	"researchhive/internal/types"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show session, job, and provider health",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	sessions, err := a.registry.ListSessions()
	if err != nil {
		return err
	}
	fmt.Printf("Workspace  %s\nSessions   %d\n", workspace, len(sessions))

	if len(sessions) > 0 {
		st, err := a.openSession()
		if err != nil {
			return err
		}
		sources, err := st.ListSources()
		if err != nil {
			return err
		}
		pending, err := st.ChunksMissingEmbeddings(1)
		if err != nil {
			return err
		}
		embedState := "embedded"
		if len(pending) > 0 {
			embedState = "embedding backlog"
		}
		fmt.Printf("Session    %s (%d sources, %s)\n", a.sessID, len(sources), embedState)

		resumable, err := st.ResumableJobs()
		if err != nil {
			return err
		}
		for _, j := range resumable {
			fmt.Printf("Resumable  %s (%s) %s\n", j.ID, j.State, firstLine(j.Prompt, 50))
		}
		active, err := st.ListJobs("")
		if err != nil {
			return err
		}
		counts := map[types.JobState]int{}
		for _, j := range active {
			counts[j.State]++
		}
		if len(active) > 0 {
			fmt.Printf("Jobs      ")
			for _, s := range []types.JobState{types.StatePending, types.StatePlanning, types.StateSearching,
				types.StateVerifying, types.StateSynthesizing, types.StateCompleted, types.StateFailed, types.StateCancelled} {
				if counts[s] > 0 {
					fmt.Printf(" %s=%d", s, counts[s])
				}
			}
			fmt.Println()
		}
	}

	if router, err := llm.NewRouter(a.cfg.Routing); err == nil {
		states := router.BreakerStates()
		names := make([]string, 0, len(states))
		for n := range states {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, n := range names {
			fmt.Printf("Provider   %-20s %s\n", n, states[n])
		}
	}
	return nil
}
