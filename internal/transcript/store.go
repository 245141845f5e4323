// Package transcript persists agent conversations to SQLite: every message
// appended to a conversation, each finished tool call, and the final outcome.
package transcript

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"refagent/internal/agent"
	"refagent/internal/domain"

	_ "modernc.org/sqlite"
)

const defaultListLimit = 20

// Conversation is the summary row of one recorded conversation.
type Conversation struct {
	ID         string
	Question   string
	State      string
	Iterations int
	Converged  bool
	Answer     string
	Error      string
	LLMCalls   int
	ToolCalls  int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ToolEvent is one finished tool call.
type ToolEvent struct {
	CallID       string
	Tool         string
	OK           bool
	ErrorKind    string
	ErrorMessage string
	Duration     time.Duration
	CreatedAt    time.Time
}

// Store records conversations. It satisfies agent.Recorder and agent.Observer.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

var (
	_ agent.Recorder = (*Store)(nil)
	_ agent.Observer = (*Store)(nil)
)

// Open opens (creating if needed) the transcript database at dbPath and
// brings its schema up to date.
func Open(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	return &Store{db: db, logger: logger, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Record appends msg to the conversation, creating the conversation row on
// first use. The first user message becomes the conversation's question.
func (s *Store) Record(ctx context.Context, conversationID string, msg domain.Message) error {
	now := s.now().UTC()

	var toolCalls sql.NullString
	if len(msg.ToolCalls) > 0 {
		raw, err := json.Marshal(msg.ToolCalls)
		if err != nil {
			return fmt.Errorf("encode tool calls: %w", err)
		}
		toolCalls = sql.NullString{String: string(raw), Valid: true}
	}
	question := ""
	if msg.Role == domain.RoleUser {
		question = msg.Content
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin record: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO conversations (id, question, created_at, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   updated_at = excluded.updated_at,
		   question = CASE WHEN conversations.question = '' THEN excluded.question ELSE conversations.question END`,
		conversationID, question, now, now,
	); err != nil {
		return fmt.Errorf("upsert conversation: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (conversation_id, role, content, tool_calls, tool_call_id, tool_name, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		conversationID, msg.Role, msg.Content, toolCalls, msg.ToolCallID, msg.ToolName, now,
	); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return tx.Commit()
}

// StateChanged tracks the conversation's position in the tool-calling cycle.
func (s *Store) StateChanged(conversationID string, state agent.State, iteration int) {
	_, err := s.db.Exec(
		`UPDATE conversations SET state = ?, iterations = ?, updated_at = ? WHERE id = ?`,
		state.String(), iteration, s.now().UTC(), conversationID,
	)
	if err != nil {
		s.logger.Warn("failed to record state change", "conversation", conversationID, "state", state, "err", err)
	}
}

// ToolFinished stores one tool call outcome.
func (s *Store) ToolFinished(conversationID string, outcome domain.ToolOutcome) {
	var kind, message string
	if outcome.Failure != nil {
		kind, message = string(outcome.Failure.Kind), outcome.Failure.Message
	}
	_, err := s.db.Exec(
		`INSERT INTO tool_events (conversation_id, call_id, tool_name, ok, error_kind, error_message, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		conversationID, outcome.CallID, outcome.Tool, outcome.IsOk(), kind, message,
		outcome.Duration.Milliseconds(), s.now().UTC(),
	)
	if err != nil {
		s.logger.Warn("failed to record tool call", "conversation", conversationID, "tool", outcome.Tool, "err", err)
	}
}

// Finish stores the outcome of a conversation run. runErr is the error
// returned by agent.Loop.Run, if any.
func (s *Store) Finish(ctx context.Context, res *agent.Result, runErr error) error {
	if res == nil {
		return errors.New("no result to record")
	}
	errText := ""
	if runErr != nil {
		errText = runErr.Error()
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations
		 SET converged = ?, answer = ?, error = ?, iterations = ?, llm_calls = ?, tool_calls = ?, updated_at = ?
		 WHERE id = ?`,
		res.Converged, res.Content, errText, res.Iterations, res.LLMCalls, res.ToolCalls,
		s.now().UTC(), res.ConversationID,
	)
	if err != nil {
		return fmt.Errorf("finish conversation %s: %w", res.ConversationID, err)
	}
	return nil
}

// Messages returns the conversation's messages in the order they were recorded.
func (s *Store) Messages(ctx context.Context, conversationID string) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, tool_calls, tool_call_id, tool_name
		 FROM messages WHERE conversation_id = ? ORDER BY id`, conversationID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []domain.Message
	for rows.Next() {
		var m domain.Message
		var toolCalls sql.NullString
		if err := rows.Scan(&m.Role, &m.Content, &toolCalls, &m.ToolCallID, &m.ToolName); err != nil {
			return nil, err
		}
		if toolCalls.Valid && toolCalls.String != "" {
			if err := json.Unmarshal([]byte(toolCalls.String), &m.ToolCalls); err != nil {
				return nil, fmt.Errorf("decode tool calls: %w", err)
			}
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// Conversation returns a single conversation summary, or nil when it does not exist.
func (s *Store) Conversation(ctx context.Context, id string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, selectConversation+` WHERE id = ?`, id)
	c, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ListConversations returns the most recently updated conversations first.
func (s *Store) ListConversations(ctx context.Context, limit int) ([]Conversation, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := s.db.QueryContext(ctx, selectConversation+` ORDER BY updated_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var convs []Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, *c)
	}
	return convs, rows.Err()
}

// ToolEvents returns the tool calls of a conversation in completion order.
func (s *Store) ToolEvents(ctx context.Context, conversationID string) ([]ToolEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT call_id, tool_name, ok, error_kind, error_message, duration_ms, created_at
		 FROM tool_events WHERE conversation_id = ? ORDER BY id`, conversationID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []ToolEvent
	for rows.Next() {
		var e ToolEvent
		var ms int64
		if err := rows.Scan(&e.CallID, &e.Tool, &e.OK, &e.ErrorKind, &e.ErrorMessage, &ms, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Duration = time.Duration(ms) * time.Millisecond
		events = append(events, e)
	}
	return events, rows.Err()
}

const selectConversation = `SELECT id, question, state, iterations, converged, answer, error,
	llm_calls, tool_calls, created_at, updated_at FROM conversations`

type scanner interface {
	Scan(dest ...any) error
}

func scanConversation(row scanner) (*Conversation, error) {
	var c Conversation
	if err := row.Scan(&c.ID, &c.Question, &c.State, &c.Iterations, &c.Converged, &c.Answer, &c.Error,
		&c.LLMCalls, &c.ToolCalls, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}
