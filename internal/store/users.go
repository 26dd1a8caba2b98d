package store

// User is a row in the users table. Timestamps are unix seconds; zero
// means never.
type User struct {
	ID                    int64  `db:"id"`
	DisplayName           string `db:"display_name"`
	DisplayColor          string `db:"display_color"`
	AuthLevel             int    `db:"auth_level"`
	LastMessage           string `db:"last_message"`
	LastMessageTime       int64  `db:"last_message_time"`
	BannedAt              int64  `db:"banned_at"`
	BannedUntil           int64  `db:"banned_until"`
	DisplayNameChangeTime int64  `db:"display_name_change_time"`
	CreatedAt             int64  `db:"created_at"`
}

const userColumns = "id, display_name, display_color, auth_level, last_message, last_message_time, banned_at, banned_until, display_name_change_time, created_at"

// CreateUser inserts a fresh user row with no display name and USER auth
// level, returning the new id. The user must pick a name before they can
// post.
func (s *Store) CreateUser(now int64) (int64, error) {
	res, err := s.db.Exec(
		"INSERT INTO users (display_name_change_time, last_message, last_message_time, banned_at, banned_until, auth_level, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		0, "", 0, 0, 0, LevelUser, now)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// UserByID loads a full user row. Returns sql.ErrNoRows when the id does
// not exist.
func (s *Store) UserByID(id int64) (User, error) {
	var u User
	err := s.db.Get(&u, "SELECT "+userColumns+" FROM users WHERE id = ?", id)
	return u, err
}

// UserIDByName resolves a display name to a user id.
func (s *Store) UserIDByName(name string) (int64, bool, error) {
	var id int64
	err := s.db.Get(&id, "SELECT id FROM users WHERE display_name = ?", name)
	if err != nil {
		if isNoRows(err) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return id, true, nil
}

// UpdateLastMessage records the user's most recent published message for
// the slow-mode and duplicate checks.
func (s *Store) UpdateLastMessage(id int64, message string, now int64) error {
	_, err := s.db.Exec("UPDATE users SET last_message = ?, last_message_time = ? WHERE id = ?", message, now, id)
	return err
}

// UpdateColor sets the user's display color.
func (s *Store) UpdateColor(id int64, color string) error {
	_, err := s.db.Exec("UPDATE users SET display_color = ? WHERE id = ?", color, id)
	return err
}

// Rename sets the display name and stamps the rename time. display_name
// carries a unique index; a taken name surfaces as a duplicate-key error,
// check with IsDuplicate.
func (s *Store) Rename(id int64, name string, now int64) error {
	_, err := s.db.Exec("UPDATE users SET display_name = ?, display_name_change_time = ? WHERE id = ?", name, now, id)
	return err
}

// BanUser stamps banned_at/banned_until on the named user. ADMIN rows are
// never touched. Reports whether a row changed.
func (s *Store) BanUser(name string, bannedAt, bannedUntil int64) (bool, error) {
	res, err := s.db.Exec(
		"UPDATE users SET banned_at = ?, banned_until = ? WHERE display_name = ? AND auth_level != ?",
		bannedAt, bannedUntil, name, LevelAdmin)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// LiftBan clears banned_until for the named user. Reports whether a row
// changed.
func (s *Store) LiftBan(name string) (bool, error) {
	res, err := s.db.Exec("UPDATE users SET banned_until = 0 WHERE display_name = ?", name)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// SetAuthLevel changes the named user's auth level. ADMIN rows are never
// touched. Reports whether a row changed.
func (s *Store) SetAuthLevel(name string, level int) (bool, error) {
	res, err := s.db.Exec(
		"UPDATE users SET auth_level = ? WHERE display_name = ? AND auth_level != ?",
		level, name, LevelAdmin)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
