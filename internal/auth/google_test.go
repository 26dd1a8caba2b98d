package auth

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strconv"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kcstream/kcchat/internal/store"
)

// newTestGoogle wires a Google provider to a mocked database and an
// optional fake tokeninfo endpoint. post runs continuations inline.
func newTestGoogle(t *testing.T, handler http.HandlerFunc) (*Google, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	sdb := sqlx.NewDb(db, "sqlmock")
	t.Cleanup(func() { sdb.Close() })

	g := NewGoogle(store.New(sdb), "client123", func(f func()) { f() })
	if handler != nil {
		srv := httptest.NewServer(handler)
		t.Cleanup(srv.Close)
		g.tokeninfoURL = srv.URL
	}
	return g, mock
}

func expectPurge(mock sqlmock.Sqlmock) {
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM google_ids WHERE expiry < ?")).
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
}

func expectCacheMiss(mock sqlmock.Sqlmock, token string) {
	mock.ExpectQuery(regexp.QuoteMeta("SELECT sub FROM google_ids WHERE id_token = ?")).
		WithArgs(token).
		WillReturnError(sql.ErrNoRows)
}

// authenticate runs Authenticate and waits for one of the callbacks.
func authenticate(t *testing.T, g *Google, token string) (int64, bool) {
	t.Helper()

	success := make(chan int64, 1)
	failure := make(chan struct{}, 1)
	g.Authenticate(token, func(id int64) { success <- id }, func() { failure <- struct{}{} })

	select {
	case id := <-success:
		return id, true
	case <-failure:
		return 0, false
	case <-time.After(2 * time.Second):
		t.Fatal("no callback fired")
		return 0, false
	}
}

func validClaims(sub string) map[string]string {
	return map[string]string{
		"exp": strconv.FormatInt(time.Now().Add(time.Hour).Unix(), 10),
		"aud": "client123",
		"iss": "https://accounts.google.com",
		"sub": sub,
	}
}

func TestAuthenticateCachedToken(t *testing.T) {
	g, mock := newTestGoogle(t, nil)

	expectPurge(mock)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT sub FROM google_ids WHERE id_token = ?")).
		WithArgs("tok-cached").
		WillReturnRows(sqlmock.NewRows([]string{"sub"}).AddRow("s-42"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT user_id FROM google_users WHERE sub = ?")).
		WithArgs("s-42").
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow(42))

	id, ok := authenticate(t, g, "tok-cached")
	assert.True(t, ok)
	assert.Equal(t, int64(42), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuthenticateNewTokenVerified(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "tok-new", r.URL.Query().Get("id_token"))
		json.NewEncoder(w).Encode(validClaims("s-7"))
	}
	g, mock := newTestGoogle(t, handler)

	expectPurge(mock)
	expectCacheMiss(mock, "tok-new")
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO google_ids (id_token, sub, expiry) VALUES (?, ?, ?)")).
		WithArgs("tok-new", "s-7", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT user_id FROM google_users WHERE sub = ?")).
		WithArgs("s-7").
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow(7))

	id, ok := authenticate(t, g, "tok-new")
	assert.True(t, ok)
	assert.Equal(t, int64(7), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuthenticateCreatesUserOnFirstSight(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(validClaims("s-new"))
	}
	g, mock := newTestGoogle(t, handler)

	expectPurge(mock)
	expectCacheMiss(mock, "tok-first")
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO google_ids (id_token, sub, expiry) VALUES (?, ?, ?)")).
		WithArgs("tok-first", "s-new", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT user_id FROM google_users WHERE sub = ?")).
		WithArgs("s-new").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("INSERT INTO users").
		WillReturnResult(sqlmock.NewResult(99, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO google_users (sub, user_id) VALUES (?, ?)")).
		WithArgs("s-new", int64(99)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	id, ok := authenticate(t, g, "tok-first")
	assert.True(t, ok)
	assert.Equal(t, int64(99), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuthenticateClaimValidation(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(map[string]string)
		wantSuccess bool
	}{
		{"expired token", func(c map[string]string) {
			c["exp"] = strconv.FormatInt(time.Now().Add(-time.Hour).Unix(), 10)
		}, false},
		{"wrong audience", func(c map[string]string) { c["aud"] = "someone-else" }, false},
		{"wrong issuer", func(c map[string]string) { c["iss"] = "evil.example.com" }, false},
		{"schemeless issuer accepted", func(c map[string]string) { c["iss"] = "accounts.google.com" }, true},
		{"missing claims", func(c map[string]string) {
			delete(c, "exp")
			delete(c, "aud")
			delete(c, "iss")
		}, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			claims := validClaims("s-1")
			tc.mutate(claims)

			handler := func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(claims)
			}
			g, mock := newTestGoogle(t, handler)

			expectPurge(mock)
			expectCacheMiss(mock, "tok")
			if tc.wantSuccess {
				mock.ExpectExec(regexp.QuoteMeta("INSERT INTO google_ids (id_token, sub, expiry) VALUES (?, ?, ?)")).
					WillReturnResult(sqlmock.NewResult(1, 1))
				mock.ExpectQuery(regexp.QuoteMeta("SELECT user_id FROM google_users WHERE sub = ?")).
					WithArgs("s-1").
					WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow(5))
			}

			_, ok := authenticate(t, g, "tok")
			assert.Equal(t, tc.wantSuccess, ok)
		})
	}
}

func TestAuthenticateEndpointUnreachable(t *testing.T) {
	g, mock := newTestGoogle(t, nil)
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close() // connection refused from here on
	g.tokeninfoURL = srv.URL

	expectPurge(mock)
	expectCacheMiss(mock, "tok")

	_, ok := authenticate(t, g, "tok")
	assert.False(t, ok)
}

func TestAuthenticateCacheInsertFailureStillResolves(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(validClaims("s-3"))
	}
	g, mock := newTestGoogle(t, handler)

	expectPurge(mock)
	expectCacheMiss(mock, "tok")
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO google_ids (id_token, sub, expiry) VALUES (?, ?, ?)")).
		WillReturnError(errors.New("insert failed"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT user_id FROM google_users WHERE sub = ?")).
		WithArgs("s-3").
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow(3))

	id, ok := authenticate(t, g, "tok")
	assert.True(t, ok)
	assert.Equal(t, int64(3), id)
}

func TestRegistryLookup(t *testing.T) {
	g, _ := newTestGoogle(t, nil)
	reg := NewRegistry(g)

	p, ok := reg.Lookup("google")
	require.True(t, ok)
	assert.Equal(t, "google", p.ID())

	_, ok = reg.Lookup("github")
	assert.False(t, ok)
}
