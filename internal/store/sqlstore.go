package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Supported backends.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

//go:embed schema/sqlite.sql
var sqliteSchema string

//go:embed schema/postgres.sql
var postgresSchema string

const agentColumns = `id, name, x_handle, verified, clapping, cumulative_clap_ms,
	last_state_changed_at, last_heartbeat_at, created_at, updated_at`

const eventColumns = `id, agent_id, agent_name, event_type, occurred_at`

const challengeColumns = `id, agent_id, handle, challenge_text, created_at, expires_at,
	completed_at, post_url`

// SQLStore is the SQL backend, shared by SQLite and Postgres. Queries are
// written with '?' placeholders and rebound for the driver.
type SQLStore struct {
	db     *sqlx.DB
	driver string
}

// OpenSQL opens (or creates) a database and applies the schema.
func OpenSQL(driver, dsn string) (*SQLStore, error) {
	var schema string
	switch driver {
	case DriverSQLite:
		schema = sqliteSchema
	case DriverPostgres:
		schema = postgresSchema
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if driver == DriverSQLite {
		// One connection serializes transactions and keeps :memory: databases alive.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	if driver == DriverSQLite {
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable foreign keys: %w", err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLStore{db: db, driver: driver}, nil
}

// NewSQL wraps an already opened database without applying the schema.
func NewSQL(db *sql.DB, driver string) *SQLStore {
	return &SQLStore{db: sqlx.NewDb(db, driver), driver: driver}
}

// Close closes the underlying database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// forUpdate returns the row-lock clause for the driver. SQLite transactions
// are already serialized by the single connection.
func (s *SQLStore) forUpdate() string {
	if s.driver == DriverPostgres {
		return " FOR UPDATE"
	}
	return ""
}

// --- rows ---

type agentRow struct {
	ID                 string `db:"id"`
	Name               string `db:"name"`
	XHandle            string `db:"x_handle"`
	Verified           bool   `db:"verified"`
	Clapping           bool   `db:"clapping"`
	CumulativeClapMs   int64  `db:"cumulative_clap_ms"`
	LastStateChangedAt int64  `db:"last_state_changed_at"`
	LastHeartbeatAt    int64  `db:"last_heartbeat_at"`
	CreatedAt          int64  `db:"created_at"`
	UpdatedAt          int64  `db:"updated_at"`
}

func (r agentRow) agent() Agent {
	a := Agent{
		ID:        r.ID,
		Name:      r.Name,
		XHandle:   r.XHandle,
		Verified:  r.Verified,
		UpdatedAt: r.UpdatedAt,
	}
	a.CreatedAt = r.CreatedAt
	a.Clapping = r.Clapping
	a.CumulativeClapMs = r.CumulativeClapMs
	a.LastStateChangedAt = r.LastStateChangedAt
	a.LastHeartbeatAt = r.LastHeartbeatAt
	return a
}

type eventRow struct {
	ID        string `db:"id"`
	AgentID   string `db:"agent_id"`
	AgentName string `db:"agent_name"`
	Type      string `db:"event_type"`
	At        int64  `db:"occurred_at"`
}

func (r eventRow) event() Event {
	return Event{ID: r.ID, AgentID: r.AgentID, AgentName: r.AgentName, Type: EventType(r.Type), At: r.At}
}

type challengeRow struct {
	ID          string        `db:"id"`
	AgentID     string        `db:"agent_id"`
	Handle      string        `db:"handle"`
	Text        string        `db:"challenge_text"`
	CreatedAt   int64         `db:"created_at"`
	ExpiresAt   int64         `db:"expires_at"`
	CompletedAt sql.NullInt64 `db:"completed_at"`
	PostURL     string        `db:"post_url"`
}

func (r challengeRow) challenge() Challenge {
	c := Challenge{
		ID:        r.ID,
		AgentID:   r.AgentID,
		Handle:    r.Handle,
		Text:      r.Text,
		CreatedAt: r.CreatedAt,
		ExpiresAt: r.ExpiresAt,
		PostURL:   r.PostURL,
	}
	if r.CompletedAt.Valid {
		at := r.CompletedAt.Int64
		c.CompletedAt = &at
	}
	return c
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

// verifiedHandleIndex keeps a handle bound to at most one verified agent.
const verifiedHandleIndex = "idx_agents_verified_handle"

// isHandleViolation reports a unique violation on verifiedHandleIndex.
func isHandleViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505" && pqErr.Constraint == verifiedHandleIndex
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed: agents.x_handle")
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// --- AgentStore ---

// CreateAgent inserts a new agent record.
func (s *SQLStore) CreateAgent(ctx context.Context, a *Agent) error {
	if err := insertAgent(ctx, s.db, a); err != nil {
		if isHandleViolation(err) {
			return ErrHandleTaken
		}
		if isUniqueViolation(err) {
			return ErrNameTaken
		}
		return fmt.Errorf("create agent: %w", err)
	}
	return nil
}

func insertAgent(ctx context.Context, ex sqlx.ExtContext, a *Agent) error {
	_, err := ex.ExecContext(ctx, ex.Rebind(
		`INSERT INTO agents (id, name, name_key, x_handle, verified, clapping, cumulative_clap_ms,
			last_state_changed_at, last_heartbeat_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		a.ID, a.Name, nameKey(a.Name), a.XHandle, a.Verified, a.Clapping, a.CumulativeClapMs,
		a.LastStateChangedAt, a.LastHeartbeatAt, a.CreatedAt, a.UpdatedAt,
	)
	return err
}

// GetAgent retrieves an agent by ID.
func (s *SQLStore) GetAgent(ctx context.Context, id string) (*Agent, error) {
	return s.getAgent(ctx, s.db, `SELECT `+agentColumns+` FROM agents WHERE id = ?`, id)
}

// GetAgentByName retrieves an agent by case-insensitive name.
func (s *SQLStore) GetAgentByName(ctx context.Context, name string) (*Agent, error) {
	return s.getAgent(ctx, s.db, `SELECT `+agentColumns+` FROM agents WHERE name_key = ?`, nameKey(name))
}

func (s *SQLStore) getAgent(ctx context.Context, q sqlx.QueryerContext, query string, args ...any) (*Agent, error) {
	var row agentRow
	err := sqlx.GetContext(ctx, q, &row, s.db.Rebind(query), args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAgentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}
	a := row.agent()
	return &a, nil
}

// ListAgents returns agents ordered by creation time.
func (s *SQLStore) ListAgents(ctx context.Context, verifiedOnly bool) ([]Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents`
	var args []any
	if verifiedOnly {
		query += ` WHERE verified = ?`
		args = append(args, true)
	}
	query += ` ORDER BY created_at, id`

	var rows []agentRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	agents := make([]Agent, len(rows))
	for i, r := range rows {
		agents[i] = r.agent()
	}
	return agents, nil
}

// Mutate applies fn to the agent inside a transaction, holding the row for
// the duration so concurrent writers for the same id are serialized.
func (s *SQLStore) Mutate(ctx context.Context, id string, fn MutateFunc) (*Agent, *Event, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	current, err := s.getAgent(ctx, tx, `SELECT `+agentColumns+` FROM agents WHERE id = ?`+s.forUpdate(), id)
	if err != nil {
		return nil, nil, err
	}

	next := *current
	ev, err := fn(&next)
	if err != nil {
		return nil, nil, err
	}
	next.ID, next.Name = current.ID, current.Name

	if err := updateAgent(ctx, tx, &next); err != nil {
		return nil, nil, err
	}
	if ev != nil {
		if err := insertEvent(ctx, tx, ev); err != nil {
			return nil, nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit: %w", err)
	}
	return &next, ev, nil
}

func updateAgent(ctx context.Context, tx *sqlx.Tx, a *Agent) error {
	_, err := tx.ExecContext(ctx, tx.Rebind(
		`UPDATE agents SET x_handle = ?, verified = ?, clapping = ?, cumulative_clap_ms = ?,
			last_state_changed_at = ?, last_heartbeat_at = ?, updated_at = ?
		 WHERE id = ?`),
		a.XHandle, a.Verified, a.Clapping, a.CumulativeClapMs,
		a.LastStateChangedAt, a.LastHeartbeatAt, a.UpdatedAt, a.ID,
	)
	if err != nil {
		return fmt.Errorf("update agent: %w", err)
	}
	return nil
}

// VerifiedOwner returns the oldest verified agent bound to handle.
func (s *SQLStore) VerifiedOwner(ctx context.Context, handle string) (*Agent, error) {
	return s.getAgent(ctx, s.db,
		`SELECT `+agentColumns+` FROM agents WHERE x_handle = ? AND verified = ? ORDER BY created_at LIMIT 1`,
		handle, true)
}

// --- EventLog ---

func insertEvent(ctx context.Context, ex sqlx.ExtContext, e *Event) error {
	_, err := ex.ExecContext(ctx, ex.Rebind(
		`INSERT INTO clap_events (id, agent_id, agent_name, event_type, occurred_at) VALUES (?, ?, ?, ?, ?)`),
		e.ID, e.AgentID, e.AgentName, string(e.Type), e.At,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// ListEvents returns up to limit events, newest first.
func (s *SQLStore) ListEvents(ctx context.Context, limit int) ([]Event, error) {
	return s.selectEvents(ctx,
		`SELECT `+eventColumns+` FROM clap_events ORDER BY occurred_at DESC, seq DESC LIMIT ?`, limit)
}

// EventsSince returns every event at or after since, newest first.
func (s *SQLStore) EventsSince(ctx context.Context, since int64) ([]Event, error) {
	return s.selectEvents(ctx,
		`SELECT `+eventColumns+` FROM clap_events WHERE occurred_at >= ? ORDER BY occurred_at DESC, seq DESC`, since)
}

func (s *SQLStore) selectEvents(ctx context.Context, query string, args ...any) ([]Event, error) {
	var rows []eventRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	events := make([]Event, len(rows))
	for i, r := range rows {
		events[i] = r.event()
	}
	return events, nil
}

// --- ChallengeStore ---

// CreateChallenge inserts a new challenge.
func (s *SQLStore) CreateChallenge(ctx context.Context, c *Challenge) error {
	if _, err := s.GetAgent(ctx, c.AgentID); err != nil {
		return err
	}
	if err := insertChallenge(ctx, s.db, c); err != nil {
		return fmt.Errorf("create challenge: %w", err)
	}
	return nil
}

func insertChallenge(ctx context.Context, ex sqlx.ExtContext, c *Challenge) error {
	_, err := ex.ExecContext(ctx, ex.Rebind(
		`INSERT INTO verification_challenges (`+challengeColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		c.ID, c.AgentID, c.Handle, c.Text, c.CreatedAt, c.ExpiresAt, nullInt(c.CompletedAt), c.PostURL,
	)
	return err
}

// GetChallenge retrieves a challenge by ID.
func (s *SQLStore) GetChallenge(ctx context.Context, id string) (*Challenge, error) {
	return s.getChallenge(ctx, s.db, `SELECT `+challengeColumns+` FROM verification_challenges WHERE id = ?`, id)
}

func (s *SQLStore) getChallenge(ctx context.Context, q sqlx.QueryerContext, query string, args ...any) (*Challenge, error) {
	var row challengeRow
	err := sqlx.GetContext(ctx, q, &row, s.db.Rebind(query), args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrChallengeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get challenge: %w", err)
	}
	c := row.challenge()
	return &c, nil
}

// CompleteChallenge stamps the challenge and verifies its agent in one transaction.
func (s *SQLStore) CompleteChallenge(ctx context.Context, id, postURL string, now int64) (*Agent, *Challenge, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	c, err := s.getChallenge(ctx, tx,
		`SELECT `+challengeColumns+` FROM verification_challenges WHERE id = ?`+s.forUpdate(), id)
	if err != nil {
		return nil, nil, err
	}
	if err := c.checkOpen(now); err != nil {
		return nil, nil, err
	}

	owner, err := s.getAgent(ctx, tx,
		`SELECT `+agentColumns+` FROM agents WHERE x_handle = ? AND verified = ? AND id <> ? LIMIT 1`,
		c.Handle, true, c.AgentID)
	switch {
	case err == nil && owner != nil:
		return nil, nil, ErrHandleTaken
	case err != nil && !errors.Is(err, ErrAgentNotFound):
		return nil, nil, err
	}

	a, err := s.getAgent(ctx, tx, `SELECT `+agentColumns+` FROM agents WHERE id = ?`+s.forUpdate(), c.AgentID)
	if err != nil {
		return nil, nil, err
	}

	if _, err := tx.ExecContext(ctx, tx.Rebind(
		`UPDATE verification_challenges SET completed_at = ?, post_url = ? WHERE id = ?`),
		now, postURL, id,
	); err != nil {
		return nil, nil, fmt.Errorf("complete challenge: %w", err)
	}
	a.Verified = true
	a.XHandle = c.Handle
	a.UpdatedAt = now
	// The owner read above does not lock other agents; a concurrent
	// completion for the same handle is caught by verifiedHandleIndex.
	if err := updateAgent(ctx, tx, a); err != nil {
		if isUniqueViolation(err) {
			return nil, nil, ErrHandleTaken
		}
		return nil, nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit: %w", err)
	}

	done := now
	c.CompletedAt = &done
	c.PostURL = postURL
	return a, c, nil
}

// --- Admin ---

// DeleteAgents removes agents and cascades to their events and challenges.
func (s *SQLStore) DeleteAgents(ctx context.Context, unverifiedOnly bool) (WipeResult, error) {
	var res WipeResult

	scope := `SELECT id FROM agents`
	var args []any
	if unverifiedOnly {
		scope += ` WHERE verified = ?`
		args = append(args, false)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	steps := []struct {
		query string
		count *int64
	}{
		{`DELETE FROM clap_events WHERE agent_id IN (` + scope + `)`, &res.Events},
		{`DELETE FROM verification_challenges WHERE agent_id IN (` + scope + `)`, &res.Challenges},
		{`DELETE FROM agents WHERE id IN (` + scope + `)`, &res.Agents},
	}
	for _, step := range steps {
		r, err := tx.ExecContext(ctx, tx.Rebind(step.query), args...)
		if err != nil {
			return WipeResult{}, fmt.Errorf("delete agents: %w", err)
		}
		if *step.count, err = r.RowsAffected(); err != nil {
			return WipeResult{}, fmt.Errorf("delete agents rows affected: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return WipeResult{}, fmt.Errorf("commit: %w", err)
	}
	return res, nil
}

// DeleteEvents clears the event log.
func (s *SQLStore) DeleteEvents(ctx context.Context) (int64, error) {
	r, err := s.db.ExecContext(ctx, `DELETE FROM clap_events`)
	if err != nil {
		return 0, fmt.Errorf("delete events: %w", err)
	}
	n, err := r.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete events rows affected: %w", err)
	}
	return n, nil
}

// Dump returns every record; events in insertion order.
func (s *SQLStore) Dump(ctx context.Context) (*Snapshot, error) {
	agents, err := s.ListAgents(ctx, false)
	if err != nil {
		return nil, err
	}
	events, err := s.selectEvents(ctx, `SELECT `+eventColumns+` FROM clap_events ORDER BY seq`)
	if err != nil {
		return nil, err
	}

	var rows []challengeRow
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT `+challengeColumns+` FROM verification_challenges ORDER BY created_at, id`); err != nil {
		return nil, fmt.Errorf("list challenges: %w", err)
	}
	challenges := make([]Challenge, len(rows))
	for i, r := range rows {
		challenges[i] = r.challenge()
	}
	return &Snapshot{Agents: agents, Events: events, Challenges: challenges}, nil
}

// Restore inserts every record of snap in one transaction.
func (s *SQLStore) Restore(ctx context.Context, snap *Snapshot) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for i := range snap.Agents {
		if err := insertAgent(ctx, tx, &snap.Agents[i]); err != nil {
			if isUniqueViolation(err) {
				return ErrNameTaken
			}
			return fmt.Errorf("restore agent %s: %w", snap.Agents[i].ID, err)
		}
	}
	for i := range snap.Events {
		if err := insertEvent(ctx, tx, &snap.Events[i]); err != nil {
			return err
		}
	}
	for i := range snap.Challenges {
		if err := insertChallenge(ctx, tx, &snap.Challenges[i]); err != nil {
			return fmt.Errorf("restore challenge %s: %w", snap.Challenges[i].ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
