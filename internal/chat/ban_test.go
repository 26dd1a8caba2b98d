package chat

import (
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kcstream/kcchat/internal/store"
)

func TestParseBanTimeframe(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"45", 45},
		{"45s", 45},
		{"45S", 45},
		{"15m", 900},
		{"3h", 10800},
		{"2d", 172800},
		{"1y", 31536000},
		{"9007199254740991", 9007199254740991},
	}

	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := parseBanTimeframe(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	for _, bad := range []string{"", "x", "10w", "h", "abc"} {
		_, err := parseBanTimeframe(bad)
		assert.Error(t, err, "timeframe %q should not parse", bad)
	}
}

func TestBanPermanent(t *testing.T) {
	ts := newTestServer(t)
	aliceConn := testConn()
	ts.clients.insert(12, aliceConn)

	ts.mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET banned_at = ?, banned_until = ? WHERE display_name = ? AND auth_level != ?")).
		WithArgs(testNow.Unix(), int64(permanentBanEnd), "alice", store.LevelAdmin).
		WillReturnResult(sqlmock.NewResult(0, 1))
	ts.mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM users WHERE display_name = ?")).
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(12))
	ts.mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM history WHERE user_id = ? AND dropped = 0")).
		WithArgs(int64(12)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(101).AddRow(102))
	ts.mock.ExpectExec(regexp.QuoteMeta("UPDATE history SET dropped = 1 WHERE user_id = ?")).
		WithArgs(int64(12)).
		WillReturnResult(sqlmock.NewResult(0, 2))

	r := NewRequest("ban @alice", "admin", 1, levelAdmin)
	resp := ts.dispatchCommand(r)

	require.True(t, resp.IsValid())
	assert.False(t, resp.IsPublic())
	assert.Equal(t, "alice banned until <span class='timestamp'>9007199254740991</span>", resp.Message())

	// Redaction broadcast first, then the banned status on Alice's
	// live connection.
	typ, data := recvPacket(t, aliceConn)
	assert.Equal(t, "delete", typ)
	assert.JSONEq(t, `{"messages":[101,102]}`, string(data))
	assert.Equal(t, statusBanned, recvStatus(t, aliceConn))

	assert.NoError(t, ts.mock.ExpectationsWereMet())
}

func TestBanTimedWithIP(t *testing.T) {
	ts := newTestServer(t)
	bobConn := testConn()
	bobConn.host = "203.0.113.9"
	ts.clients.insert(30, bobConn)

	banEnd := testNow.Unix() + 3600

	ts.mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET banned_at = ?, banned_until = ? WHERE display_name = ? AND auth_level != ?")).
		WithArgs(testNow.Unix(), banEnd, "bob", store.LevelAdmin).
		WillReturnResult(sqlmock.NewResult(0, 1))
	ts.mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM users WHERE display_name = ?")).
		WithArgs("bob").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(30))
	ts.mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM history WHERE user_id = ? AND dropped = 0")).
		WithArgs(int64(30)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	ts.mock.ExpectExec(regexp.QuoteMeta("UPDATE history SET dropped = 1 WHERE user_id = ?")).
		WithArgs(int64(30)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	ts.mock.ExpectExec(regexp.QuoteMeta("INSERT INTO banned_hosts (host, started, `until`) VALUES (?, ?, ?)")).
		WithArgs("203.0.113.9", testNow.Unix(), banEnd).
		WillReturnResult(sqlmock.NewResult(1, 1))

	resp := ts.dispatchCommand(NewRequest("ipban @bob 1h", "modguy", 2, levelMod))

	require.True(t, resp.IsValid())
	assert.Contains(t, resp.Message(), "bob banned until")
	assert.Contains(t, resp.Message(), "And 1 IP(s) also banned")

	assert.NoError(t, ts.mock.ExpectationsWereMet())
}

func TestBanIPWithoutConnections(t *testing.T) {
	ts := newTestServer(t)

	ts.mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET banned_at = ?, banned_until = ?")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	ts.mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM users WHERE display_name = ?")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(31))
	ts.mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM history")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	ts.mock.ExpectExec(regexp.QuoteMeta("UPDATE history SET dropped = 1")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	resp := ts.dispatchCommand(NewRequest("ip offline_guy", "modguy", 2, levelMod))

	assert.Contains(t, resp.Message(), "But IP address could not be determined")
}

func TestBanUnknownUser(t *testing.T) {
	ts := newTestServer(t)

	ts.mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET banned_at = ?, banned_until = ?")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	resp := ts.dispatchCommand(NewRequest("ban @nobody", "modguy", 2, levelMod))
	assert.Equal(t, "Couldn't find user nobody", resp.Message())
}

// Admin rows never match the guarded UPDATE, so banning an admin reads
// as "user not found".
func TestBanRefusesAdmin(t *testing.T) {
	ts := newTestServer(t)

	ts.mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET banned_at = ?, banned_until = ? WHERE display_name = ? AND auth_level != ?")).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "root_admin", store.LevelAdmin).
		WillReturnResult(sqlmock.NewResult(0, 0))

	resp := ts.dispatchCommand(NewRequest("ban root_admin 1h", "modguy", 2, levelMod))
	assert.Equal(t, "Couldn't find user root_admin", resp.Message())
}

func TestBanBadTimeframe(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.dispatchCommand(NewRequest("ban alice soon", "modguy", 2, levelMod))
	assert.Equal(t, "Failed to parse ban timeframe: soon", resp.Message())
}

func TestBanUsage(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.dispatchCommand(NewRequest("ban", "modguy", 2, levelMod))
	assert.Equal(t, "Usage: ban <name> [length-of-ban]", resp.Message())
}

func TestUnban(t *testing.T) {
	ts := newTestServer(t)
	conn := testConn()
	ts.clients.insert(12, conn)

	ts.mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET banned_until = 0 WHERE display_name = ?")).
		WithArgs("alice").
		WillReturnResult(sqlmock.NewResult(0, 1))
	ts.mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM users WHERE display_name = ?")).
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(12))
	// The lifted user's state is re-sent to their connections.
	ts.expectUser(store.User{ID: 12, DisplayName: "alice"})

	resp := ts.dispatchCommand(NewRequest("unban @alice", "modguy", 2, levelMod))

	assert.Equal(t, "alice unbanned", resp.Message())
	assert.Equal(t, statusAuthenticated, recvStatus(t, conn))
}
