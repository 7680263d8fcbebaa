package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/dataagent-ai/dataagent/internal/mcp"
	"github.com/dataagent-ai/dataagent/internal/store"
)

var (
	_ store.SessionStore   = (*DB)(nil)
	_ store.MessageStore   = (*DB)(nil)
	_ store.MCPConfigStore = (*DB)(nil)
	_ store.UserStore      = (*DB)(nil)
)

const timeLayout = time.RFC3339Nano

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

// CreateSession implements store.SessionStore.
func (db *DB) CreateSession(ctx context.Context, session *store.Session) error {
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now()
	}
	if session.LastActive.IsZero() {
		session.LastActive = session.CreatedAt
	}

	_, err := db.sql.ExecContext(ctx, `
		INSERT INTO s_session (session_id, user_id, assistant_id, title, state, metadata, archived, created_at, last_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.SessionID, session.UserID, session.AssistantID, session.Title,
		nullableJSON(session.State), nullableJSON(session.Metadata),
		boolToInt(session.Archived), formatTime(session.CreatedAt), formatTime(session.LastActive))
	return err
}

// GetSession implements store.SessionStore.
func (db *DB) GetSession(ctx context.Context, sessionID string) (*store.Session, error) {
	row := db.sql.QueryRowContext(ctx, `
		SELECT session_id, user_id, assistant_id, COALESCE(title, ''), state, metadata, archived, created_at, last_active
		FROM s_session WHERE session_id = ?`, sessionID)
	return scanSession(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*store.Session, error) {
	var session store.Session
	var state, metadata sql.NullString
	var archived int
	var createdAt, lastActive string

	err := row.Scan(&session.SessionID, &session.UserID, &session.AssistantID,
		&session.Title, &state, &metadata, &archived, &createdAt, &lastActive)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if state.Valid {
		session.State = json.RawMessage(state.String)
	}
	if metadata.Valid {
		session.Metadata = json.RawMessage(metadata.String)
	}
	session.Archived = archived != 0
	session.CreatedAt = parseTime(createdAt)
	session.LastActive = parseTime(lastActive)
	return &session, nil
}

// ListSessions implements store.SessionStore.
func (db *DB) ListSessions(ctx context.Context, userID string, limit, offset int) ([]*store.Session, error) {
	query := `
		SELECT session_id, user_id, assistant_id, COALESCE(title, ''), state, metadata, archived, created_at, last_active
		FROM s_session`
	var args []any
	if userID != "" {
		query += " WHERE user_id = ?"
		args = append(args, userID)
	}
	query += " ORDER BY last_active DESC"
	if limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, offset)
	} else if offset > 0 {
		query += " LIMIT -1 OFFSET ?"
		args = append(args, offset)
	}

	rows, err := db.sql.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*store.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// TouchSession implements store.SessionStore.
func (db *DB) TouchSession(ctx context.Context, sessionID string) error {
	result, err := db.sql.ExecContext(ctx,
		"UPDATE s_session SET last_active = ? WHERE session_id = ?",
		formatTime(time.Now()), sessionID)
	if err != nil {
		return err
	}
	return requireRow(result)
}

// ArchiveSession implements store.SessionStore.
func (db *DB) ArchiveSession(ctx context.Context, sessionID string) error {
	result, err := db.sql.ExecContext(ctx,
		"UPDATE s_session SET archived = 1 WHERE session_id = ?", sessionID)
	if err != nil {
		return err
	}
	return requireRow(result)
}

// DeleteSession implements store.SessionStore, cascading to messages.
func (db *DB) DeleteSession(ctx context.Context, sessionID string) error {
	tx, err := db.sql.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM s_message WHERE message_id IN
		(SELECT message_id FROM s_session_message_rel WHERE session_id = ?)`, sessionID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM s_session_message_rel WHERE session_id = ?", sessionID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM s_session WHERE session_id = ?", sessionID); err != nil {
		return err
	}
	return tx.Commit()
}

// CleanupExpired implements store.SessionStore.
func (db *DB) CleanupExpired(ctx context.Context, maxIdle time.Duration) (int, error) {
	cutoff := formatTime(time.Now().Add(-maxIdle))

	rows, err := db.sql.QueryContext(ctx,
		"SELECT session_id FROM s_session WHERE last_active < ?", cutoff)
	if err != nil {
		return 0, err
	}
	var expired []string
	for rows.Next() {
		var sessionID string
		if err := rows.Scan(&sessionID); err != nil {
			rows.Close()
			return 0, err
		}
		expired = append(expired, sessionID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, sessionID := range expired {
		if err := db.DeleteSession(ctx, sessionID); err != nil {
			return len(expired), err
		}
	}
	return len(expired), nil
}

// AppendMessage implements store.MessageStore. The relationship row
// carries the per-session strictly increasing sequence number.
func (db *DB) AppendMessage(ctx context.Context, msg *store.Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	tx, err := db.sql.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO s_message (message_id, role, content, tool_calls, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		msg.MessageID, msg.Role, msg.Content,
		nullableJSON(msg.ToolCalls), nullableJSON(msg.Metadata), formatTime(msg.CreatedAt)); err != nil {
		return err
	}

	var next int64
	if err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(sequence_number), 0) + 1
		FROM s_session_message_rel WHERE session_id = ?`, msg.SessionID).Scan(&next); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO s_session_message_rel (session_id, message_id, sequence_number)
		VALUES (?, ?, ?)`, msg.SessionID, msg.MessageID, next); err != nil {
		return err
	}

	msg.Sequence = next
	return tx.Commit()
}

// ListMessages implements store.MessageStore, ordered by sequence.
func (db *DB) ListMessages(ctx context.Context, sessionID string, limit, offset int) ([]*store.Message, error) {
	query := `
		SELECT m.message_id, rel.session_id, rel.sequence_number, m.role, m.content, m.tool_calls, m.metadata, m.created_at
		FROM s_message m
		JOIN s_session_message_rel rel ON rel.message_id = m.message_id
		WHERE rel.session_id = ?
		ORDER BY rel.sequence_number`
	args := []any{sessionID}
	if limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, offset)
	} else if offset > 0 {
		query += " LIMIT -1 OFFSET ?"
		args = append(args, offset)
	}

	rows, err := db.sql.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*store.Message
	for rows.Next() {
		var msg store.Message
		var toolCalls, metadata sql.NullString
		var createdAt string
		if err := rows.Scan(&msg.MessageID, &msg.SessionID, &msg.Sequence,
			&msg.Role, &msg.Content, &toolCalls, &metadata, &createdAt); err != nil {
			return nil, err
		}
		if toolCalls.Valid {
			msg.ToolCalls = json.RawMessage(toolCalls.String)
		}
		if metadata.Valid {
			msg.Metadata = json.RawMessage(metadata.String)
		}
		msg.CreatedAt = parseTime(createdAt)
		messages = append(messages, &msg)
	}
	return messages, rows.Err()
}

// GetUserConfig implements store.MCPConfigStore.
func (db *DB) GetUserConfig(ctx context.Context, userID string) (mcp.Config, error) {
	rows, err := db.sql.QueryContext(ctx, `
		SELECT server_name, command, args, env, url, transport, headers, disabled, auto_approve
		FROM s_mcp_server WHERE user_id = ?`, userID)
	if err != nil {
		return mcp.Config{}, err
	}
	defer rows.Close()

	cfg := mcp.Config{Servers: map[string]mcp.ServerConfig{}}
	for rows.Next() {
		server, err := scanServer(rows)
		if err != nil {
			return mcp.Config{}, err
		}
		cfg.Servers[server.Name] = server
	}
	return cfg, rows.Err()
}

func scanServer(row rowScanner) (mcp.ServerConfig, error) {
	var server mcp.ServerConfig
	var command, args, env, url, transport, headers, autoApprove sql.NullString
	var disabled int

	if err := row.Scan(&server.Name, &command, &args, &env, &url, &transport,
		&headers, &disabled, &autoApprove); err != nil {
		return server, err
	}

	server.Command = command.String
	server.URL = url.String
	server.Transport = mcp.Transport(transport.String)
	server.Disabled = disabled != 0
	if args.Valid && args.String != "" {
		_ = json.Unmarshal([]byte(args.String), &server.Args)
	}
	if env.Valid && env.String != "" {
		_ = json.Unmarshal([]byte(env.String), &server.Env)
	}
	if headers.Valid && headers.String != "" {
		_ = json.Unmarshal([]byte(headers.String), &server.Headers)
	}
	if autoApprove.Valid && autoApprove.String != "" {
		_ = json.Unmarshal([]byte(autoApprove.String), &server.AutoApprove)
	}
	return server, nil
}

// SaveUserConfig implements store.MCPConfigStore by replacing the
// user's server set.
func (db *DB) SaveUserConfig(ctx context.Context, userID string, cfg mcp.Config) error {
	tx, err := db.sql.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM s_mcp_server WHERE user_id = ?", userID); err != nil {
		return err
	}
	for _, server := range cfg.Servers {
		if err := upsertServer(ctx, tx, userID, server); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// DeleteUserConfig implements store.MCPConfigStore.
func (db *DB) DeleteUserConfig(ctx context.Context, userID string) (bool, error) {
	result, err := db.sql.ExecContext(ctx,
		"DELETE FROM s_mcp_server WHERE user_id = ?", userID)
	if err != nil {
		return false, err
	}
	affected, _ := result.RowsAffected()
	return affected > 0, nil
}

// AddServer implements store.MCPConfigStore.
func (db *DB) AddServer(ctx context.Context, userID string, server mcp.ServerConfig) error {
	tx, err := db.sql.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := upsertServer(ctx, tx, userID, server); err != nil {
		return err
	}
	return tx.Commit()
}

func upsertServer(ctx context.Context, tx *sql.Tx, userID string, server mcp.ServerConfig) error {
	now := formatTime(time.Now())
	_, err := tx.ExecContext(ctx, `
		INSERT INTO s_mcp_server (user_id, server_name, command, args, env, url, transport, headers, disabled, auto_approve, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, server_name) DO UPDATE SET
			command = excluded.command,
			args = excluded.args,
			env = excluded.env,
			url = excluded.url,
			transport = excluded.transport,
			headers = excluded.headers,
			disabled = excluded.disabled,
			auto_approve = excluded.auto_approve,
			updated_at = excluded.updated_at`,
		userID, server.Name, server.Command,
		marshalJSON(server.Args), marshalJSON(server.Env), server.URL,
		string(server.Transport), marshalJSON(server.Headers),
		boolToInt(server.Disabled), marshalJSON(server.AutoApprove), now, now)
	return err
}

// RemoveServer implements store.MCPConfigStore.
func (db *DB) RemoveServer(ctx context.Context, userID, serverName string) (bool, error) {
	result, err := db.sql.ExecContext(ctx,
		"DELETE FROM s_mcp_server WHERE user_id = ? AND server_name = ?", userID, serverName)
	if err != nil {
		return false, err
	}
	affected, _ := result.RowsAffected()
	return affected > 0, nil
}

// GetServer implements store.MCPConfigStore.
func (db *DB) GetServer(ctx context.Context, userID, serverName string) (*mcp.ServerConfig, error) {
	row := db.sql.QueryRowContext(ctx, `
		SELECT server_name, command, args, env, url, transport, headers, disabled, auto_approve
		FROM s_mcp_server WHERE user_id = ? AND server_name = ?`, userID, serverName)

	server, err := scanServer(row)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &server, nil
}

// GetUser implements store.UserStore.
func (db *DB) GetUser(ctx context.Context, userID string) (*store.User, error) {
	var user store.User
	var createdAt string
	err := db.sql.QueryRowContext(ctx, `
		SELECT user_id, COALESCE(username, ''), COALESCE(display_name, ''), user_source, COALESCE(role, ''), status, created_at
		FROM s_user WHERE user_id = ?`, userID).
		Scan(&user.UserID, &user.Username, &user.DisplayName, &user.Source, &user.Role, &user.Status, &createdAt)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	user.CreatedAt = parseTime(createdAt)
	return &user, nil
}

// SaveUser implements store.UserStore.
func (db *DB) SaveUser(ctx context.Context, user *store.User) error {
	if user.Source == "" {
		user.Source = "local"
	}
	if user.Status == "" {
		user.Status = "active"
	}
	_, err := db.sql.ExecContext(ctx, `
		INSERT INTO s_user (user_id, username, display_name, user_source, role, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			username = excluded.username,
			display_name = excluded.display_name,
			user_source = excluded.user_source,
			role = excluded.role,
			status = excluded.status`,
		user.UserID, user.Username, user.DisplayName, user.Source, user.Role,
		user.Status, formatTime(user.CreatedAt))
	return err
}

func requireRow(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func marshalJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	s := string(data)
	if s == "null" {
		return ""
	}
	// Normalize empty collections to empty strings so scans stay clean.
	if s == "{}" || s == "[]" {
		return ""
	}
	return strings.TrimSpace(s)
}
