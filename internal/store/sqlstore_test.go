package store

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewSQL(db, "sqlmock"), mock
}

var agentMockColumns = []string{
	"id", "name", "x_handle", "verified", "clapping", "cumulative_clap_ms",
	"last_state_changed_at", "last_heartbeat_at", "created_at", "updated_at",
}

func TestSQLMutateRollsBackOnUpdateFailure(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT (.+) FROM agents WHERE id = \?`).
		WithArgs("a1").
		WillReturnRows(sqlmock.NewRows(agentMockColumns).
			AddRow("a1", "Jeb", "", false, false, int64(0), int64(0), int64(0), int64(0), int64(0)))
	mock.ExpectExec(`UPDATE agents SET`).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, _, err := s.Mutate(context.Background(), "a1", toggle(true, 100))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMutateRollsBackOnEventFailure(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT (.+) FROM agents WHERE id = \?`).
		WithArgs("a1").
		WillReturnRows(sqlmock.NewRows(agentMockColumns).
			AddRow("a1", "Jeb", "", false, false, int64(0), int64(0), int64(0), int64(0), int64(0)))
	mock.ExpectExec(`UPDATE agents SET`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO clap_events`).WillReturnError(errors.New("constraint"))
	mock.ExpectRollback()

	_, _, err := s.Mutate(context.Background(), "a1", toggle(true, 100))
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMutateUnknownAgent(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT (.+) FROM agents WHERE id = \?`).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows(agentMockColumns))
	mock.ExpectRollback()

	_, _, err := s.Mutate(context.Background(), "ghost", toggle(true, 100))
	assert.ErrorIs(t, err, ErrAgentNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLCreateAgentMapsUniqueViolation(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO agents`).WillReturnError(&pq.Error{Code: "23505"})

	err := s.CreateAgent(context.Background(), newAgent("a1", "Jeb", 0))
	assert.ErrorIs(t, err, ErrNameTaken)
	assert.NoError(t, mock.ExpectationsWereMet())
}

var challengeMockColumns = []string{
	"id", "agent_id", "handle", "challenge_text", "created_at", "expires_at", "completed_at", "post_url",
}

func TestSQLCompleteChallengeMapsHandleRace(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT (.+) FROM verification_challenges WHERE id = \?`).
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows(challengeMockColumns).
			AddRow("c1", "b", "jeb", "text", int64(0), int64(1000), nil, ""))
	// Another transaction has not committed yet, so no owner is visible.
	mock.ExpectQuery(`SELECT (.+) FROM agents WHERE x_handle = \?`).
		WithArgs("jeb", true, "b").
		WillReturnRows(sqlmock.NewRows(agentMockColumns))
	mock.ExpectQuery(`SELECT (.+) FROM agents WHERE id = \?`).
		WithArgs("b").
		WillReturnRows(sqlmock.NewRows(agentMockColumns).
			AddRow("b", "Val", "", false, false, int64(0), int64(0), int64(0), int64(0), int64(0)))
	mock.ExpectExec(`UPDATE verification_challenges SET completed_at`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE agents SET`).
		WillReturnError(&pq.Error{Code: "23505", Constraint: verifiedHandleIndex})
	mock.ExpectRollback()

	_, _, err := s.CompleteChallenge(context.Background(), "c1", "url", 10)
	assert.ErrorIs(t, err, ErrHandleTaken)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLCreateAgentMapsHandleViolation(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO agents`).
		WillReturnError(&pq.Error{Code: "23505", Constraint: verifiedHandleIndex})

	err := s.CreateAgent(context.Background(), newAgent("a1", "Jeb", 0))
	assert.ErrorIs(t, err, ErrHandleTaken)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLDeleteAgentsRollsBack(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM clap_events WHERE agent_id IN`).
		WithArgs(false).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(`DELETE FROM verification_challenges`).
		WithArgs(false).
		WillReturnError(errors.New("locked"))
	mock.ExpectRollback()

	res, err := s.DeleteAgents(context.Background(), true)
	require.Error(t, err)
	assert.Equal(t, WipeResult{}, res)
	assert.NoError(t, mock.ExpectationsWereMet())
}
