package invitations

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsecheck/backend/internal/models"
)

func newMockRepo(t *testing.T) (*Repository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewRepository(mock), mock
}

var advisoryLock = regexp.QuoteMeta(`SELECT pg_advisory_xact_lock(hashtext(LOWER($1)))`)

func TestRepositoryCreateExclusiveRejectsUnderLock(t *testing.T) {
	cases := []struct {
		name            string
		exists, invited bool
		want            error
	}{
		{"registered identity", true, false, ErrUserExists},
		{"open invitation", false, true, ErrAlreadyInvited},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo, mock := newMockRepo(t)
			now := time.Now()
			mock.ExpectBegin()
			mock.ExpectExec(advisoryLock).WithArgs("new@acme.io").WillReturnResult(pgxmock.NewResult("SELECT", 1))
			mock.ExpectQuery(regexp.QuoteMeta(`AND used = FALSE AND expired_at >= $2`)).
				WithArgs("new@acme.io", now).
				WillReturnRows(pgxmock.NewRows([]string{"user_exists", "invited"}).AddRow(tc.exists, tc.invited))
			mock.ExpectRollback()

			err := repo.CreateExclusive(context.Background(), &models.Invitation{Email: "new@acme.io", Role: models.RoleLeader}, now)
			assert.ErrorIs(t, err, tc.want)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestRepositoryCreateExclusiveInserts(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now()
	id := uuid.New()
	mock.ExpectBegin()
	mock.ExpectExec(advisoryLock).WithArgs("new@acme.io").WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery(regexp.QuoteMeta(`EXISTS (SELECT 1 FROM users`)).
		WillReturnRows(pgxmock.NewRows([]string{"user_exists", "invited"}).AddRow(false, false))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO invitations`)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(id, now, now))
	mock.ExpectCommit()

	inv := &models.Invitation{Email: "new@acme.io", Role: models.RoleLeader, OrgName: "Acme", ExpiredAt: now.Add(time.Hour)}
	require.NoError(t, repo.CreateExclusive(context.Background(), inv, now))
	assert.Equal(t, id, inv.ID)
	assert.Equal(t, now, inv.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

var issuedColumnNames = []string{"id", "email", "role", "org_name", "invited_by", "inviter_name", "token",
	"expired_at", "used", "created_at", "updated_at", "registered", "first_name", "last_name", "user_details"}

func TestRepositoryListIssuedByReportsBadSnapshot(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE i.invited_by = $1 AND i.org_name = $2`)).
		WillReturnRows(pgxmock.NewRows(issuedColumnNames).AddRow(uuid.New(), "e@acme.io", "employee", "Acme", uuid.New(),
			"Ada", "tok", now, false, now, now, false, "", "", []byte(`{"first_name":`)))

	_, err := repo.ListIssuedBy(context.Background(), uuid.New(), "Acme")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode profile snapshot")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryListOrgMembers(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now()
	done := now.AddDate(0, -1, 0)
	cols := append(append([]string{}, issuedColumnNames...), "last_completed_at", "has_open")
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE i.org_name = $1`)).
		WithArgs("Acme").
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow(uuid.New(), "lee@acme.io", "leader", "Acme", uuid.New(), "Ada", "t1", now, true, now, now,
				true, "Lee", "Test", nil, &done, false).
			AddRow(uuid.New(), "e@acme.io", "employee", "Acme", uuid.New(), "Ada", "t2", now, false, now, now,
				false, "", "", []byte(`{"first_name":"Eve"}`), nil, true))

	rows, err := repo.ListOrgMembers(context.Background(), "Acme")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, models.RoleLeader, rows[0].Invitation.Role)
	assert.Equal(t, done, *rows[0].LastCompletedAt)
	assert.Nil(t, rows[0].Snapshot)
	assert.True(t, rows[1].HasOpen)
	assert.Nil(t, rows[1].LastCompletedAt)
	assert.Equal(t, "Eve", ResolveDisplayName(rows[1].IssuedInvitationRow))
	assert.NoError(t, mock.ExpectationsWereMet())
}
