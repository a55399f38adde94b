package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rand/mnemosyne-sub002/internal/models"
)

var rememberCmd = &cobra.Command{
	Use:   "remember [content]",
	Short: "Store a new memory",
	Long: `Store a memory under a namespace.

Examples:
  mnemo remember --ns project:myapp "Always validate JWT tokens server-side"
  mnemo remember --ns project:myapp:auth --type decision --importance 8 "Chose PKCE over implicit flow"
  mnemo remember --ns global "Don't use float for currency"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		content := strings.Join(args, " ")
		ns, _ := cmd.Flags().GetString("ns")
		memType, _ := cmd.Flags().GetString("type")
		importance, _ := cmd.Flags().GetInt("importance")

		req := models.CreateRequest{
			Content:    content,
			Namespace:  ns,
			Type:       models.MemoryType(memType),
			Importance: importance,
		}
		var resp models.CreateResponse
		if err := call("POST", "/memories", req, &resp); err != nil {
			return err
		}

		fmt.Printf("memory created: %s\n", resp.ID)
		fmt.Printf("  namespace:  %s\n", ns)
		fmt.Printf("  type:       %s\n", memType)
		fmt.Printf("  importance: %d\n", importance)
		return nil
	},
}

func init() {
	rememberCmd.Flags().String("ns", "global", "namespace (e.g. project:myapp:frontend)")
	rememberCmd.Flags().StringP("type", "t", "insight", "memory type (insight|architecture_decision|decision|task|reference)")
	rememberCmd.Flags().IntP("importance", "i", 5, "importance from 1 to 10")
}
