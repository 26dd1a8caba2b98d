package chat

import (
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/kcstream/kcchat/internal/config"
	"github.com/kcstream/kcchat/internal/overlay"
	"github.com/kcstream/kcchat/internal/store"
)

// testNow is the frozen clock all server tests run at.
var testNow = time.Unix(1_700_000_000, 0)

type testServer struct {
	*Server
	mock   sqlmock.Sqlmock
	events *[]overlay.Message
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	sdb := sqlx.NewDb(db, "sqlmock")
	t.Cleanup(func() { sdb.Close() })

	var events []overlay.Message

	cfg := config.New(map[string]any{
		"bot_name":        "kcbot",
		"bot_color":       "#a0a0ff",
		"max_chat_length": 240,
	})

	s := New(Options{
		Config:  cfg,
		Store:   store.New(sdb),
		Overlay: func(m overlay.Message) { events = append(events, m) },
		Version: "0.1",
	})
	s.now = func() time.Time { return testNow }

	return &testServer{Server: s, mock: mock, events: &events}
}

var userColumnList = []string{
	"id", "display_name", "display_color", "auth_level",
	"last_message", "last_message_time", "banned_at", "banned_until",
	"display_name_change_time", "created_at",
}

func userRows(u store.User) *sqlmock.Rows {
	return sqlmock.NewRows(userColumnList).AddRow(
		u.ID, u.DisplayName, u.DisplayColor, u.AuthLevel,
		u.LastMessage, u.LastMessageTime, u.BannedAt, u.BannedUntil,
		u.DisplayNameChangeTime, u.CreatedAt)
}

const selectUserSQL = "SELECT id, display_name, display_color, auth_level, last_message, last_message_time, banned_at, banned_until, display_name_change_time, created_at FROM users WHERE id = ?"

func (ts *testServer) expectUser(u store.User) {
	ts.mock.ExpectQuery(regexp.QuoteMeta(selectUserSQL)).
		WithArgs(u.ID).
		WillReturnRows(userRows(u))
}

func (ts *testServer) expectBannedWords(words ...string) {
	rows := sqlmock.NewRows([]string{"word"})
	for _, w := range words {
		rows.AddRow(w)
	}
	ts.mock.ExpectQuery(regexp.QuoteMeta("SELECT word FROM banned_words")).
		WillReturnRows(rows)
}

// recvPacket pops the next queued frame off a connection and decodes
// its envelope.
func recvPacket(t *testing.T, c *Conn) (string, json.RawMessage) {
	t.Helper()

	select {
	case data := <-c.send:
		var p struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		require.NoError(t, json.Unmarshal(data, &p))
		return p.Type, p.Data
	default:
		t.Fatal("no packet queued")
		return "", nil
	}
}

func recvStatus(t *testing.T, c *Conn) string {
	t.Helper()

	typ, data := recvPacket(t, c)
	require.Equal(t, "status", typ)
	var d struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(data, &d))
	return d.Status
}
