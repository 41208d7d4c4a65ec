package cmd

import (
	"context"
	"fmt"

	"github.com/abhisek/inquiz/internal/store"
	"github.com/spf13/cobra"
)

var resetCmd = &cobra.Command{
	Use:   "reset [session-id...]",
	Short: "Delete or prune stored session snapshots",
	Long:  "Deletes the named sessions' snapshots, or every session with --all. With --prune N, keeps only the newest N snapshots per session instead of deleting.",
	RunE:  runReset,
}

func init() {
	resetCmd.Flags().Bool("all", false, "Apply to every stored session")
	resetCmd.Flags().Int("prune", 0, "Keep only the newest N snapshots per session instead of deleting")
}

func runReset(cmd *cobra.Command, args []string) error {
	all, _ := cmd.Flags().GetBool("all")
	keep, _ := cmd.Flags().GetInt("prune")
	if len(args) == 0 && !all {
		return fmt.Errorf("name session ids to reset, or pass --all")
	}

	dbPath, err := resolveDBPath(cmd)
	if err != nil {
		return fmt.Errorf("resolve database path: %w", err)
	}
	s, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer s.Close()

	ctx := context.Background()
	sessions := s.Sessions()

	ids := args
	if all {
		ids, err = sessions.SessionIDs(ctx)
		if err != nil {
			return err
		}
	}

	for _, id := range ids {
		if keep > 0 {
			if err := sessions.Prune(ctx, id, keep); err != nil {
				return err
			}
			fmt.Printf("pruned %s to %d snapshots\n", id, keep)
			continue
		}
		if err := sessions.Delete(ctx, id); err != nil {
			return err
		}
		fmt.Printf("deleted %s\n", id)
	}
	return nil
}
