package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rand/mnemosyne-sub002/internal/models"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server health and substrate statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		var health models.HealthResponse
		if err := call("GET", "/health", nil, &health); err != nil {
			return err
		}
		var stats models.StatsResponse
		if err := call("GET", "/stats", nil, &stats); err != nil {
			return err
		}

		asJSON, _ := cmd.Flags().GetBool("json")
		if asJSON {
			data, _ := json.MarshalIndent(map[string]any{
				"health": health,
				"stats":  stats,
			}, "", "  ")
			fmt.Println(string(data))
			return nil
		}

		fmt.Printf("server:      %s (%s)\n", serverURL, health.Status)
		fmt.Printf("database:    %s\n", health.DB.Status)
		fmt.Printf("enrichment:  %s\n", health.Enrichment.Status)
		fmt.Println()
		fmt.Printf("memories:    %d (%d superseded)\n", stats.TotalMemories, stats.Superseded)
		for t, n := range stats.ByType {
			fmt.Printf("  %-22s %d\n", t, n)
		}
		fmt.Printf("evaluations: %d\n", stats.Evaluations)
		fmt.Printf("weight scopes: %d\n", stats.WeightScopes)
		return nil
	},
}

func init() {
	statusCmd.Flags().Bool("json", false, "output as JSON")
}
