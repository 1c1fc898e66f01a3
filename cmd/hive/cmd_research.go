package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"researchhive/internal/types"
)

var (
	researchResume string
	researchType   string
)

var researchCmd = &cobra.Command{
	Use:   "research <prompt>...",
	Short: "Run a research job end to end",
	Long: `Submits a research job and drives it through planning, searching,
verifying, and synthesis. Ctrl-C cancels cooperatively: the job is
marked cancelled with its checkpoint intact, and --resume continues a
checkpointed job after a restart.`,
	RunE: runResearch,
}

func init() {
	researchCmd.Flags().StringVar(&researchResume, "resume", "", "resume a checkpointed job by id")
	researchCmd.Flags().StringVar(&researchType, "job-type", string(types.JobResearch), "job type (research, discovery, materials, fusion)")
}

func runResearch(cmd *cobra.Command, args []string) error {
	if researchResume == "" && len(args) == 0 {
		return fmt.Errorf("%w: a prompt or --resume is required", types.ErrInvalidInput)
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	st, err := a.openSession()
	if err != nil {
		return err
	}
	orch, _, err := a.orchestrator(st)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	a.watchConfig(ctx)

	jobID := researchResume
	if jobID != "" {
		fmt.Printf("Resuming job %s\n", jobID)
		err = orch.Resume(ctx, jobID)
	} else {
		job, serr := orch.Submit(a.sessID, strings.Join(args, " "), types.JobType(researchType))
		if serr != nil {
			return serr
		}
		jobID = job.ID
		fmt.Printf("Job %s submitted\n", jobID)
		err = orch.Run(ctx, jobID)
	}
	if err != nil {
		return fmt.Errorf("job %s: %w", jobID, err)
	}

	job, err := st.GetJob(jobID)
	if err != nil {
		return err
	}
	fmt.Printf("\nJob %s %s\n\n", job.ID, job.State)
	if job.ExecutiveSummary != "" {
		fmt.Printf("Executive summary:\n%s\n\n", job.ExecutiveSummary)
	}
	if job.FullReport != "" {
		fmt.Println(job.FullReport)
	}
	return nil
}
