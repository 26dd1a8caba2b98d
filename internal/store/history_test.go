package store

import (
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertMessage(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO history (user_id, time, message, dropped, host, donate_value) VALUES (?, ?, ?, ?, ?, ?)")).
		WithArgs(int64(7), int64(1700000000123), "hi there", false, "192.0.2.10", "").
		WillReturnResult(sqlmock.NewResult(1001, 1))

	id, err := s.InsertMessage(Message{
		UserID:  7,
		Time:    1700000000123,
		Message: "hi there",
		Host:    "192.0.2.10",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1001), id)
}

func TestRecentMessages(t *testing.T) {
	s, mock := newTestStore(t)

	rows := sqlmock.NewRows([]string{"id", "user_id", "message", "donate_value", "time"}).
		AddRow(12, 7, "newest", "", 1700000002000).
		AddRow(11, 3, "older", "5.00", 1700000001000)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, user_id, message, donate_value, time FROM history WHERE dropped = 0 AND id > ? ORDER BY time DESC LIMIT ?")).
		WithArgs(int64(0), 50).
		WillReturnRows(rows)

	msgs, err := s.RecentMessages(0, 50)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, int64(12), msgs[0].ID)
	assert.Equal(t, "5.00", msgs[1].DonateValue)
}

func TestDropUserMessages(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM history WHERE user_id = ? AND dropped = 0")).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(4).AddRow(9).AddRow(15))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE history SET dropped = 1 WHERE user_id = ?")).
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 3))

	ids, err := s.DropUserMessages(7)
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 9, 15}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDropUserMessagesNone(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM history WHERE user_id = ? AND dropped = 0")).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE history SET dropped = 1 WHERE user_id = ?")).
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ids, err := s.DropUserMessages(7)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestDropMessage(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE history SET dropped = 1 WHERE id = ?")).
		WithArgs(int64(44)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.DropMessage(44))
}
