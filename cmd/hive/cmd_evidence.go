package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var evidenceCmd = &cobra.Command{
	Use:   "evidence",
	Short: "Inspect the claim ledger and citations",
}

var evidenceCitationsCmd = &cobra.Command{
	Use:   "citations <job-id>",
	Short: "List a job's citations",
	Args:  cobra.ExactArgs(1),
	RunE:  runEvidenceCitations,
}

var evidenceClaimsCmd = &cobra.Command{
	Use:   "claims <job-id>",
	Short: "List a job's claim ledger",
	Args:  cobra.ExactArgs(1),
	RunE:  runEvidenceClaims,
}

var evidenceCheckCmd = &cobra.Command{
	Use:   "check <job-id>",
	Short: "Run the claim-citation integrity check",
	Long: `Verifies that every claim with support other than unverified cites at
least one citation that resolves within the same job. Violations are
downgraded to unverified and reported; the job itself is untouched.`,
	Args: cobra.ExactArgs(1),
	RunE: runEvidenceCheck,
}

func init() {
	evidenceCmd.AddCommand(evidenceCitationsCmd)
	evidenceCmd.AddCommand(evidenceClaimsCmd)
	evidenceCmd.AddCommand(evidenceCheckCmd)
}

func runEvidenceCitations(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	st, err := a.openSession()
	if err != nil {
		return err
	}
	citations, err := st.CitationsForJob(args[0])
	if err != nil {
		return err
	}
	if len(citations) == 0 {
		fmt.Println("No citations.")
		return nil
	}
	for _, c := range citations {
		fmt.Printf("%s  %-4s  [%s] %s\n", c.ID, c.Label, c.Type, firstLine(c.Excerpt, 90))
	}
	return nil
}

func runEvidenceClaims(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	st, err := a.openSession()
	if err != nil {
		return err
	}
	claims, err := st.ClaimsForJob(args[0])
	if err != nil {
		return err
	}
	if len(claims) == 0 {
		fmt.Println("No claims.")
		return nil
	}
	for _, c := range claims {
		fmt.Printf("%-20s  %s\n", c.Support, c.Claim)
		if len(c.CitationIDs) > 0 {
			fmt.Printf("%-20s  cites %s\n", "", strings.Join(c.CitationIDs, ", "))
		}
	}
	return nil
}

func runEvidenceCheck(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	st, err := a.openSession()
	if err != nil {
		return err
	}
	violations, err := st.CheckIntegrity(args[0])
	if err != nil {
		return err
	}
	if len(violations) == 0 {
		fmt.Println("Ledger consistent: every supported claim resolves.")
		return nil
	}
	for _, v := range violations {
		fmt.Printf("downgraded %s: %s\n", v.ClaimID, v.Reason)
	}
	fmt.Printf("%d claims downgraded to unverified\n", len(violations))
	return nil
}
