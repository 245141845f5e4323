package transcript

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"refagent/internal/agent"
	"refagent/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// testStore opens a store whose clock advances one second per call.
func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "transcripts.db"), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return s
}

func TestOpen_MigratesToCurrentVersion(t *testing.T) {
	s := testStore(t)
	v, err := SchemaVersion(s.db)
	require.NoError(t, err)
	assert.Equal(t, schemaVersion, v)
}

func TestOpen_UsesWALJournal(t *testing.T) {
	s := testStore(t)

	var mode string
	require.NoError(t, s.db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", strings.ToLower(mode))

	var timeout int
	require.NoError(t, s.db.QueryRow("PRAGMA busy_timeout").Scan(&timeout))
	assert.Equal(t, 5000, timeout)
}

func TestRunMigrations_Idempotent(t *testing.T) {
	s := testStore(t)
	require.NoError(t, RunMigrations(s.db, testLogger()))
	v, err := SchemaVersion(s.db)
	require.NoError(t, err)
	assert.Equal(t, schemaVersion, v)
}

func TestRunMigrations_UpgradesPartialSchema(t *testing.T) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "old.db"))
	require.NoError(t, err)
	defer db.Close()

	// A v1 database where one v2 column was already added by hand.
	_, err = db.Exec(`CREATE TABLE schema_version (version INTEGER PRIMARY KEY, description TEXT, applied_at DATETIME)`)
	require.NoError(t, err)
	for _, stmt := range splitStatements(migrations[0].SQL) {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}
	_, err = db.Exec(`INSERT INTO schema_version (version, description) VALUES (1, 'base')`)
	require.NoError(t, err)
	_, err = db.Exec(`ALTER TABLE conversations ADD COLUMN converged INTEGER NOT NULL DEFAULT 0`)
	require.NoError(t, err)

	require.NoError(t, RunMigrations(db, testLogger()))
	v, err := SchemaVersion(db)
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestSchemaVersion_FreshDatabase(t *testing.T) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "empty.db"))
	require.NoError(t, err)
	defer db.Close()

	v, err := SchemaVersion(db)
	require.NoError(t, err)
	assert.Equal(t, 0, v)
}

func TestRecord_RoundTripsMessages(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	msgs := []domain.Message{
		{Role: domain.RoleSystem, Content: "You are a referral analyst."},
		{Role: domain.RoleUser, Content: "Who refers to Mercy General?"},
		{Role: domain.RoleAssistant, ToolCalls: []domain.ToolCall{{
			ID: "call_1_0", Name: "get_referral_sources",
			Arguments: map[string]any{"hospital_name": "Mercy General"},
		}}},
		{Role: domain.RoleTool, Content: `{"sources":[]}`, ToolCallID: "call_1_0", ToolName: "get_referral_sources"},
		{Role: domain.RoleAssistant, Content: "Nobody refers to it."},
	}
	for _, m := range msgs {
		require.NoError(t, s.Record(ctx, "conv-1", m))
	}

	got, err := s.Messages(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, got, len(msgs))
	assert.Equal(t, msgs[1], got[1])
	assert.Equal(t, msgs[3], got[3])
	require.Len(t, got[2].ToolCalls, 1)
	assert.Equal(t, "get_referral_sources", got[2].ToolCalls[0].Name)
	assert.Equal(t, "Mercy General", got[2].ToolCalls[0].Arguments["hospital_name"])

	conv, err := s.Conversation(ctx, "conv-1")
	require.NoError(t, err)
	require.NotNil(t, conv)
	assert.Equal(t, "Who refers to Mercy General?", conv.Question)
	assert.True(t, conv.UpdatedAt.After(conv.CreatedAt))
}

func TestRecord_KeepsFirstQuestion(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.Record(ctx, "c", domain.Message{Role: domain.RoleUser, Content: "first"}))
	require.NoError(t, s.Record(ctx, "c", domain.Message{Role: domain.RoleUser, Content: "second"}))

	conv, err := s.Conversation(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, "first", conv.Question)
}

func TestMessages_UnknownConversation(t *testing.T) {
	s := testStore(t)
	got, err := s.Messages(context.Background(), "missing")
	require.NoError(t, err)
	assert.Empty(t, got)

	conv, err := s.Conversation(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, conv)
}

func TestStateChangedAndFinish(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.Record(ctx, "c", domain.Message{Role: domain.RoleUser, Content: "q"}))
	s.StateChanged("c", agent.StateExecutingTools, 2)

	conv, err := s.Conversation(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, "EXECUTING_TOOLS", conv.State)
	assert.Equal(t, 2, conv.Iterations)

	res := &agent.Result{ConversationID: "c", Content: "done", Converged: true, Iterations: 3, LLMCalls: 4, ToolCalls: 2}
	require.NoError(t, s.Finish(ctx, res, nil))

	conv, err = s.Conversation(ctx, "c")
	require.NoError(t, err)
	assert.True(t, conv.Converged)
	assert.Equal(t, "done", conv.Answer)
	assert.Equal(t, 3, conv.Iterations)
	assert.Equal(t, 4, conv.LLMCalls)
	assert.Equal(t, 2, conv.ToolCalls)
	assert.Empty(t, conv.Error)
}

func TestFinish_RecordsError(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	require.NoError(t, s.Record(ctx, "c", domain.Message{Role: domain.RoleUser, Content: "q"}))

	runErr := &domain.FatalLLMError{Attempts: 4, Err: errors.New("429")}
	require.NoError(t, s.Finish(ctx, &agent.Result{ConversationID: "c", Iterations: 1}, runErr))

	conv, err := s.Conversation(ctx, "c")
	require.NoError(t, err)
	assert.False(t, conv.Converged)
	assert.Contains(t, conv.Error, "after 4 attempt(s)")

	assert.Error(t, s.Finish(ctx, nil, nil))
}

func TestToolFinished(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	call := domain.ToolCall{ID: "call_1_0", Name: "find_hospital"}
	ok := domain.Ok(call, map[string]any{"found": true})
	ok.Duration = 120 * time.Millisecond
	s.ToolFinished("c", ok)

	failed := domain.FailFromError(domain.ToolCall{ID: "call_1_1", Name: "nope"}, domain.ErrToolNotFound)
	s.ToolFinished("c", failed)

	events, err := s.ToolEvents(ctx, "c")
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.True(t, events[0].OK)
	assert.Equal(t, "find_hospital", events[0].Tool)
	assert.Equal(t, 120*time.Millisecond, events[0].Duration)

	assert.False(t, events[1].OK)
	assert.Equal(t, string(domain.KindToolNotFound), events[1].ErrorKind)
	assert.Equal(t, "tool not found", events[1].ErrorMessage)
}

func TestListConversations_MostRecentFirst(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.Record(ctx, id, domain.Message{Role: domain.RoleUser, Content: "question " + id}))
	}
	require.NoError(t, s.Record(ctx, "a", domain.Message{Role: domain.RoleAssistant, Content: "answer"}))

	convs, err := s.ListConversations(ctx, 2)
	require.NoError(t, err)
	require.Len(t, convs, 2)
	assert.Equal(t, "a", convs[0].ID)
	assert.Equal(t, "c", convs[1].ID)

	all, err := s.ListConversations(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
