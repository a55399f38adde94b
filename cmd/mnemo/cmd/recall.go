package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rand/mnemosyne-sub002/internal/models"
)

var recallCmd = &cobra.Command{
	Use:   "recall [query]",
	Short: "Search memories by relevance",
	Long: `Run ranked retrieval under a namespace.

Examples:
  mnemo recall --ns project:myapp "database indexing strategy"
  mnemo recall --ns global --limit 5 --session sess-42 "error handling"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		ns, _ := cmd.Flags().GetString("ns")
		limit, _ := cmd.Flags().GetInt("limit")
		minImportance, _ := cmd.Flags().GetInt("min-importance")
		sessionID, _ := cmd.Flags().GetString("session")
		asJSON, _ := cmd.Flags().GetBool("json")

		req := models.SearchRequest{
			Query:         query,
			Namespace:     ns,
			Limit:         limit,
			MinImportance: minImportance,
			SessionID:     sessionID,
		}
		var resp models.SearchResponse
		if err := call("POST", "/memories/search", req, &resp); err != nil {
			return err
		}

		if asJSON {
			data, _ := json.MarshalIndent(resp, "", "  ")
			fmt.Println(string(data))
			return nil
		}

		if len(resp.Results) == 0 {
			fmt.Println("no matches")
			return nil
		}
		for i, r := range resp.Results {
			fmt.Printf("%2d. [%.3f] (%s, importance %d) %s\n", i+1, r.Score, r.Type, r.Importance, r.ID)
			body := r.Summary
			if body == "" {
				body = r.Content
			}
			fmt.Printf("    %s\n", firstLine(body))
		}
		fmt.Printf("\n%d candidates, %dms", resp.Meta.TotalCandidates, resp.Meta.SearchTimeMs)
		if resp.Meta.LearnerUsed {
			fmt.Print(", learned weights applied")
		}
		if resp.Meta.Truncated {
			fmt.Print(", truncated")
		}
		fmt.Println()
		return nil
	},
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}

func init() {
	recallCmd.Flags().String("ns", "global", "namespace to search under")
	recallCmd.Flags().IntP("limit", "n", 10, "maximum results")
	recallCmd.Flags().Int("min-importance", 0, "minimum importance filter")
	recallCmd.Flags().String("session", "", "session id for learned ranking")
	recallCmd.Flags().Bool("json", false, "output as JSON")
}
