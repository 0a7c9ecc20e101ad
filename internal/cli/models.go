package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List available models",
	Long:  `List the models the server offers, grouped by provider, with their capabilities.`,
	RunE:  runModels,
}

func runModels(cmd *cobra.Command, args []string) error {
	models, err := api.Models(cmd.Context())
	if err != nil {
		return fmt.Errorf("fetching models: %w", err)
	}

	providers := make([]string, 0, len(models))
	for provider := range models {
		providers = append(providers, provider)
	}
	sort.Strings(providers)

	for _, provider := range providers {
		fmt.Println(promptStyle().Render(provider))
		for _, m := range models[provider] {
			line := fmt.Sprintf("  %-32s %s", m.ID, m.Label)
			if len(m.Capabilities) > 0 {
				line += hintStyle().Render("  [" + strings.Join(m.Capabilities, ", ") + "]")
			}
			fmt.Println(line)
		}
	}
	return nil
}
