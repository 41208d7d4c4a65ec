package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/abhisek/inquiz/internal/bank"
	"github.com/abhisek/inquiz/internal/driver"
	"github.com/abhisek/inquiz/internal/engine"
	"github.com/abhisek/inquiz/internal/judge"
	"github.com/abhisek/inquiz/internal/llm"
	"github.com/abhisek/inquiz/internal/store"
)

var interviewCmd = &cobra.Command{
	Use:   "interview [item-id...]",
	Short: "Run an interactive interview over stdin",
	Long:  "Runs the given items (default: every item in the bank) as a free-text interview. Answers are read line by line; a judge LLM classifies each answer and the engine decides whether to probe or move on.",
	RunE:  runInterview,
}

func init() {
	interviewCmd.Flags().String("bank", "", "Path to the question bank directory (required)")
	interviewCmd.Flags().String("session", "", "Session id to resume (default: new session)")
	interviewCmd.MarkFlagRequired("bank")
}

func runInterview(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	bankDir, _ := cmd.Flags().GetString("bank")
	b, err := bank.LoadDir(bankDir)
	if err != nil {
		return fmt.Errorf("load bank: %w", err)
	}

	dbPath, err := resolveDBPath(cmd)
	if err != nil {
		return fmt.Errorf("resolve database path: %w", err)
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer st.Close()

	provider, err := llm.NewProviderFromEnv(ctx, st.JudgeCalls())
	if err != nil {
		return fmt.Errorf("judge provider: %w", err)
	}
	client := judge.NewClient(provider)

	kernel := engine.New(b, driver.DefaultRegistry(),
		engine.WithPersister(st.Sessions()),
		engine.WithPrimer(client),
	)

	session, err := resumeOrStart(ctx, cmd, st)
	if err != nil {
		return err
	}
	fmt.Printf("session %s (judge: %s)\n\n", session.ID, provider.ModelID())

	items := args
	if len(items) == 0 {
		items = b.ItemIDs()
	}

	in := bufio.NewScanner(os.Stdin)
	for _, itemID := range items {
		if err := runItem(ctx, kernel, client, b, session, itemID, in); err != nil {
			return err
		}
	}

	printAbility(session)
	return nil
}

// resumeOrStart restores the named session from the store or creates a new
// one.
func resumeOrStart(ctx context.Context, cmd *cobra.Command, st *store.Store) (*engine.Session, error) {
	now := time.Now()
	id, _ := cmd.Flags().GetString("session")
	if id == "" {
		return engine.NewSession(uuid.NewString(), now), nil
	}

	session, err := st.Sessions().Latest(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("restore session %s: %w", id, err)
	}
	if session == nil {
		return engine.NewSession(id, now), nil
	}
	return session, nil
}

// runItem drives one item to completion: question, answer, judge, kernel,
// probe, repeat.
func runItem(ctx context.Context, kernel *engine.Kernel, client *judge.Client, b bank.Bank, session *engine.Session, itemID string, in *bufio.Scanner) error {
	item, err := b.ItemByID(itemID)
	if err != nil {
		return err
	}
	schema, err := b.SchemaByID(item.SchemaID)
	if err != nil {
		return err
	}

	fmt.Println(item.Stem)

	var history []judge.Turn
	question := item.Stem
	for {
		fmt.Print("> ")
		if !in.Scan() {
			return in.Err()
		}
		answer := strings.TrimSpace(in.Text())
		if answer == "" {
			continue
		}

		verdict, err := client.Judge(ctx, session.ID, judge.TurnContext{
			Schema:  schema,
			Item:    item,
			History: history,
			Answer:  answer,
		})
		req := engine.TurnRequest{ItemID: itemID, UserText: answer}
		if err != nil {
			// Judge failure degrades to the contract-invalid recovery turn.
			fmt.Fprintf(os.Stderr, "warning: judge call failed: %v\n", err)
		} else {
			req.JudgeOutput = verdict.Parsed
		}

		res, err := kernel.HandleTurn(ctx, session, req)
		if err != nil {
			return err
		}
		history = append(history, judge.Turn{Question: question, Answer: answer})

		for _, badge := range res.Badges {
			fmt.Printf("  [%s]\n", badge)
		}

		if res.Completed {
			fmt.Printf("  done (score %.2f, %d turns)\n\n", res.Score, res.Turns)
			return nil
		}
		if res.Probe != nil {
			fmt.Println(res.Probe.Text)
			question = res.Probe.Text
		} else {
			question = ""
		}
	}
}

func printAbility(session *engine.Session) {
	if len(session.Ability) == 0 {
		return
	}
	keys := make([]string, 0, len(session.Ability))
	for k := range session.Ability {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Println("ability estimates:")
	for _, k := range keys {
		est := session.Ability[k]
		fmt.Printf("  %-24s  mean %+.2f  variance %.2f\n", k, est.Mean, est.Variance)
	}
}
