package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rand/mnemosyne-sub002/internal/models"
)

var consolidateCmd = &cobra.Command{
	Use:   "consolidate",
	Short: "Merge near-duplicate memories in a namespace",
	RunE: func(cmd *cobra.Command, args []string) error {
		ns, _ := cmd.Flags().GetString("ns")
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		req := models.ConsolidateRequest{Namespace: ns, DryRun: dryRun}
		var resp models.ConsolidateResponse
		if err := call("POST", "/consolidate", req, &resp); err != nil {
			return err
		}

		verb := "merged"
		if resp.DryRun {
			verb = "would merge"
		}
		for _, p := range resp.Proposals {
			fmt.Printf("%s %d memories", verb, len(p.SourceIDs))
			if p.ConsolidatedID != "" {
				fmt.Printf(" into %s", p.ConsolidatedID)
			}
			fmt.Printf(" (importance %d)\n", p.Importance)
			fmt.Printf("  sources: %s\n", strings.Join(p.SourceIDs, ", "))
		}
		for _, s := range resp.Skipped {
			fmt.Printf("skipped cluster [%s]: %s\n", strings.Join(s.MemberIDs, ", "), s.Reason)
		}
		if len(resp.Proposals) == 0 && len(resp.Skipped) == 0 {
			fmt.Println("nothing to consolidate")
		}
		return nil
	},
}

var recalibrateCmd = &cobra.Command{
	Use:   "recalibrate",
	Short: "Recompute importance for a namespace",
	RunE: func(cmd *cobra.Command, args []string) error {
		ns, _ := cmd.Flags().GetString("ns")

		req := models.RecalibrateRequest{Namespace: ns}
		var resp models.RecalibrateResponse
		if err := call("POST", "/recalibrate", req, &resp); err != nil {
			return err
		}

		fmt.Printf("examined %d memories, adjusted %d\n", resp.Examined, resp.Adjusted)
		return nil
	},
}

func init() {
	consolidateCmd.Flags().String("ns", "global", "namespace scope")
	consolidateCmd.Flags().Bool("dry-run", false, "report proposals without merging")
	recalibrateCmd.Flags().String("ns", "global", "namespace scope")
}
