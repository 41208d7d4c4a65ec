package cmd

import (
	"fmt"

	"github.com/abhisek/inquiz/internal/bank"
	"github.com/abhisek/inquiz/internal/driver"
	"github.com/spf13/cobra"
)

var bankCmd = &cobra.Command{
	Use:   "bank",
	Short: "Inspect and validate question bank directories",
}

var bankValidateCmd = &cobra.Command{
	Use:   "validate <dir>",
	Short: "Load a bank directory and run static validation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := bank.LoadDir(args[0])
		if err != nil {
			return err
		}

		// Loading validated shapes; also check every schema resolves to a
		// registered driver so a typo fails here, not mid-interview.
		reg := driver.DefaultRegistry()
		for _, id := range b.SchemaIDs() {
			s, err := b.SchemaByID(id)
			if err != nil {
				return err
			}
			if _, err := reg.Resolve(s.Engine.DriverID, s.Engine.Kind); err != nil {
				return fmt.Errorf("schema %q: %w", id, err)
			}
		}

		fmt.Printf("OK: %d schemas, %d items\n", len(b.SchemaIDs()), len(b.ItemIDs()))
		return nil
	},
}

var bankListCmd = &cobra.Command{
	Use:   "list <dir>",
	Short: "List schemas and items in a bank directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := bank.LoadDir(args[0])
		if err != nil {
			return err
		}

		fmt.Println("Schemas:")
		for _, id := range b.SchemaIDs() {
			s, _ := b.SchemaByID(id)
			engine := s.Engine.DriverID
			if engine == "" {
				engine = "kind:" + s.Engine.Kind
			}
			fmt.Printf("  %-24s  %-24s  guidance %s\n", id, engine, s.GuidanceVersion)
		}

		fmt.Println("Items:")
		for _, id := range b.ItemIDs() {
			it, _ := b.ItemByID(id)
			fmt.Printf("  %-24s  %-24s  %s\n", id, it.SchemaID, it.Stem)
		}
		return nil
	},
}

func init() {
	bankCmd.AddCommand(bankValidateCmd)
	bankCmd.AddCommand(bankListCmd)
}
