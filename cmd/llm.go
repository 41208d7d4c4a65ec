package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/abhisek/inquiz/internal/llm"
	"github.com/abhisek/inquiz/internal/store"
	"github.com/spf13/cobra"
)

var llmCmd = &cobra.Command{
	Use:   "llm",
	Short: "Inspect the judge LLM configuration and call log",
}

var llmCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify judge provider connectivity with a round-trip call",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		provider, err := llm.NewProviderFromEnv(ctx, nil)
		if err != nil {
			return fmt.Errorf("provider not configured: %w", err)
		}

		fmt.Printf("model: %s\n", provider.ModelID())

		start := time.Now()
		resp, err := provider.Generate(llm.WithPurpose(ctx, llm.PurposeCheck), llm.Request{
			Messages:  []llm.Message{{Role: llm.RoleUser, Content: `Reply with the JSON object {"ok": true}.`}},
			MaxTokens: 64,
			Schema: &llm.Schema{
				Name: "connectivity-check",
				Definition: map[string]any{
					"type":       "object",
					"properties": map[string]any{"ok": map[string]any{"type": "boolean"}},
					"required":   []any{"ok"},
				},
			},
		})
		if err != nil {
			return fmt.Errorf("round trip failed: %w", err)
		}

		var reply struct {
			OK bool `json:"ok"`
		}
		if err := json.Unmarshal(resp.Content, &reply); err != nil || !reply.OK {
			return fmt.Errorf("unexpected reply: %s", resp.Content)
		}

		fmt.Printf("ok (%dms, %d in / %d out tokens)\n",
			time.Since(start).Milliseconds(), resp.Usage.InputTokens, resp.Usage.OutputTokens)
		return nil
	},
}

var llmStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregated judge token usage and estimated cost",
	RunE: func(cmd *cobra.Command, args []string) error {
		dbPath, err := resolveDBPath(cmd)
		if err != nil {
			return fmt.Errorf("resolve database path: %w", err)
		}

		s, err := store.Open(dbPath)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer s.Close()

		usage, err := s.JudgeCalls().UsageByPurpose(context.Background())
		if err != nil {
			return fmt.Errorf("query usage: %w", err)
		}

		if len(usage) == 0 {
			fmt.Println("No judge calls recorded yet.")
			return nil
		}

		fmt.Println("Usage by Purpose")
		fmt.Println(strings.Repeat("─", 72))
		fmt.Printf("%-12s  %6s  %10s  %10s  %6s  %9s\n",
			"Purpose", "Calls", "Input", "Output", "Fail", "Cost")
		fmt.Println(strings.Repeat("─", 72))

		var totalCalls, totalIn, totalOut int
		var totalCost float64
		for _, u := range usage {
			fmt.Printf("%-12s  %6d  %10d  %10d  %6d  %9s\n",
				u.Purpose, u.Calls, u.InputTokens, u.OutputTokens, u.Failures, formatCost(u.CostUSD))
			totalCalls += u.Calls
			totalIn += u.InputTokens
			totalOut += u.OutputTokens
			totalCost += u.CostUSD
		}

		fmt.Println(strings.Repeat("─", 72))
		fmt.Printf("%-12s  %6d  %10d  %10d  %6s  %9s\n",
			"TOTAL", totalCalls, totalIn, totalOut, "", formatCost(totalCost))
		return nil
	},
}

func formatCost(usd float64) string {
	if usd < 0.01 {
		return fmt.Sprintf("$%.4f", usd)
	}
	return fmt.Sprintf("$%.2f", usd)
}

func init() {
	llmCmd.AddCommand(llmCheckCmd)
	llmCmd.AddCommand(llmStatsCmd)
}
