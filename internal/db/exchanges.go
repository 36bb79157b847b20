package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/themobileprof/chatmanager/pkg/llm"
)

var ErrInvalidPage = errors.New("invalid page")

const schema = `
	CREATE TABLE IF NOT EXISTS exchanges (
		id          BIGSERIAL PRIMARY KEY,
		session     TEXT NOT NULL,
		credential  TEXT NOT NULL,
		request     JSONB NOT NULL,
		response    JSONB,
		error       TEXT,
		latency_ms  BIGINT NOT NULL DEFAULT 0,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_exchanges_session ON exchanges (session, id);
`

// Exchange is one archived request/response pair
type Exchange struct {
	ID         int64
	Session    string
	Credential string
	Request    []llm.ChatMessage
	Response   *llm.ChatResponse
	Error      *string
	Latency    time.Duration
	CreatedAt  time.Time
}

// EnsureSchema creates the exchanges table when missing
func (db *DB) EnsureSchema(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// SaveExchange inserts e and fills in its ID and CreatedAt
func (db *DB) SaveExchange(ctx context.Context, e *Exchange) error {
	request, err := json.Marshal(e.Request)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	// jsonb parameters go over the wire as text
	var response any
	if e.Response != nil {
		b, err := json.Marshal(e.Response)
		if err != nil {
			return fmt.Errorf("failed to encode response: %w", err)
		}
		response = string(b)
	}

	query := `
		INSERT INTO exchanges (session, credential, request, response, error, latency_ms)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`

	err = db.QueryRowContext(ctx, query,
		e.Session, e.Credential, string(request), response, e.Error, e.Latency.Milliseconds(),
	).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save exchange: %w", err)
	}

	return nil
}

// GetExchanges pages through a session's archive, oldest first
func (db *DB) GetExchanges(ctx context.Context, session string, limit, offset int) ([]Exchange, error) {
	if limit <= 0 || offset < 0 {
		return nil, fmt.Errorf("%w: limit=%d offset=%d", ErrInvalidPage, limit, offset)
	}

	query := `
		SELECT id, session, credential, request, response, error, latency_ms, created_at
		FROM exchanges
		WHERE session = $1
		ORDER BY id ASC
		LIMIT $2 OFFSET $3
	`

	rows, err := db.QueryContext(ctx, query, session, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query exchanges: %w", err)
	}
	defer rows.Close()

	var exchanges []Exchange
	for rows.Next() {
		var (
			e         Exchange
			request   []byte
			response  []byte
			errText   sql.NullString
			latencyMS int64
		)
		if err := rows.Scan(&e.ID, &e.Session, &e.Credential, &request, &response, &errText, &latencyMS, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan exchange: %w", err)
		}

		if err := json.Unmarshal(request, &e.Request); err != nil {
			return nil, fmt.Errorf("failed to decode request of exchange %d: %w", e.ID, err)
		}
		if len(response) > 0 {
			e.Response = &llm.ChatResponse{}
			if err := json.Unmarshal(response, e.Response); err != nil {
				return nil, fmt.Errorf("failed to decode response of exchange %d: %w", e.ID, err)
			}
		}
		if errText.Valid {
			e.Error = &errText.String
		}
		e.Latency = time.Duration(latencyMS) * time.Millisecond

		exchanges = append(exchanges, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating exchanges: %w", err)
	}

	return exchanges, nil
}

// CountExchanges returns the number of archived exchanges for a session
func (db *DB) CountExchanges(ctx context.Context, session string) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM exchanges WHERE session = $1`, session).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count exchanges: %w", err)
	}
	return n, nil
}
