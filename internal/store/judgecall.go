package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// JudgeCallData is one LLM request record for the append-only call log.
type JudgeCallData struct {
	SessionID    string
	Purpose      string
	Model        string
	LatencyMs    int64
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	Success      bool
	ErrorMessage string
	RequestBody  string
	ResponseBody string
}

// PurposeUsage aggregates the call log per purpose label.
type PurposeUsage struct {
	Purpose      string
	Calls        int
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	Failures     int
}

// JudgeCallRepo appends and summarizes judge-call records.
type JudgeCallRepo interface {
	AppendJudgeCall(ctx context.Context, data JudgeCallData) error
	UsageByPurpose(ctx context.Context) ([]PurposeUsage, error)
}

type judgeCallRepo struct {
	db *sql.DB
}

func (r *judgeCallRepo) AppendJudgeCall(ctx context.Context, data JudgeCallData) error {
	success := 0
	if data.Success {
		success = 1
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO judge_calls
		(session_id, purpose, model, latency_ms, input_tokens, output_tokens,
		 cost_usd, success, error_message, request_body, response_body, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		data.SessionID,
		data.Purpose,
		data.Model,
		data.LatencyMs,
		data.InputTokens,
		data.OutputTokens,
		data.CostUSD,
		success,
		data.ErrorMessage,
		data.RequestBody,
		data.ResponseBody,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("append judge call: %w", err)
	}
	return nil
}

func (r *judgeCallRepo) UsageByPurpose(ctx context.Context) ([]PurposeUsage, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT purpose,
		       COUNT(*),
		       COALESCE(SUM(input_tokens), 0),
		       COALESCE(SUM(output_tokens), 0),
		       COALESCE(SUM(cost_usd), 0),
		       COALESCE(SUM(1 - success), 0)
		FROM judge_calls
		GROUP BY purpose
		ORDER BY purpose`,
	)
	if err != nil {
		return nil, fmt.Errorf("query usage: %w", err)
	}
	defer rows.Close()

	var out []PurposeUsage
	for rows.Next() {
		var u PurposeUsage
		if err := rows.Scan(&u.Purpose, &u.Calls, &u.InputTokens, &u.OutputTokens, &u.CostUSD, &u.Failures); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
