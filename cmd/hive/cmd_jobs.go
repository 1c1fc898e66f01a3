package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"researchhive/internal/types"
)

var jobsState string

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and control research jobs",
	RunE:  runJobsList,
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs, newest first",
	RunE:  runJobsList,
}

var jobsShowCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Show one job in full",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsShow,
}

var jobsStepsCmd = &cobra.Command{
	Use:   "steps <job-id>",
	Short: "Print a job's append-only step log",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsSteps,
}

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a non-terminal job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsCancel,
}

func init() {
	jobsListCmd.Flags().StringVar(&jobsState, "state", "", "filter by state")
	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsShowCmd)
	jobsCmd.AddCommand(jobsStepsCmd)
	jobsCmd.AddCommand(jobsCancelCmd)
}

func runJobsList(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	st, err := a.openSession()
	if err != nil {
		return err
	}
	jobs, err := st.ListJobs(types.JobState(jobsState))
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		fmt.Println("No jobs.")
		return nil
	}
	for _, j := range jobs {
		resumable := ""
		if !j.State.Terminal() && j.CheckpointData != "" {
			resumable = " (resumable)"
		}
		fmt.Printf("%s  %-12s  %s%s\n", j.ID, j.State, firstLine(j.Prompt, 60), resumable)
	}
	return nil
}

func runJobsShow(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	st, err := a.openSession()
	if err != nil {
		return err
	}
	j, err := st.GetJob(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Job        %s\nType       %s\nState      %s\nPrompt     %s\n", j.ID, j.Type, j.State, j.Prompt)
	fmt.Printf("Sources    %d/%d (iteration %d/%d)\n", len(j.AcquiredSourceIDs), j.TargetSourceCount, j.CurrentIteration, j.MaxIterations)
	fmt.Printf("Created    %s\nUpdated    %s\n", j.CreatedUTC, j.UpdatedUTC)
	if j.CompletedUTC != "" {
		fmt.Printf("Completed  %s\n", j.CompletedUTC)
	}
	if j.ErrorMessage != "" {
		fmt.Printf("Error      %s\n", j.ErrorMessage)
	}
	if j.Plan != "" {
		fmt.Printf("\nPlan:\n%s\n", j.Plan)
	}
	if j.MostSupportedView != "" {
		fmt.Printf("\nMost supported view:\n%s\n", j.MostSupportedView)
	}
	if j.CredibleAlternatives != "" {
		fmt.Printf("\nCredible alternatives:\n%s\n", j.CredibleAlternatives)
	}
	if j.ExecutiveSummary != "" {
		fmt.Printf("\nExecutive summary:\n%s\n", j.ExecutiveSummary)
	}
	return nil
}

func runJobsSteps(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	st, err := a.openSession()
	if err != nil {
		return err
	}
	steps, err := st.JobSteps(args[0])
	if err != nil {
		return err
	}
	for _, s := range steps {
		status := "ok"
		if !s.Success {
			status = "FAIL"
		}
		fmt.Printf("%3d  %-14s  %-12s  %-4s  %s", s.StepNumber, s.Action, s.StateAfter, status, s.Detail)
		if s.Error != "" {
			fmt.Printf("  (%s)", s.Error)
		}
		fmt.Println()
	}
	return nil
}

func runJobsCancel(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	st, err := a.openSession()
	if err != nil {
		return err
	}
	if err := st.UpdateJobState(args[0], types.StateCancelled, "cancelled from CLI"); err != nil {
		return err
	}
	fmt.Printf("Job %s cancelled\n", args[0])
	return nil
}
