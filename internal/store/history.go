package store

// Message is a row in the history table. Time is unix milliseconds.
type Message struct {
	ID          int64  `db:"id"`
	UserID      int64  `db:"user_id"`
	Time        int64  `db:"time"`
	Message     string `db:"message"`
	Dropped     bool   `db:"dropped"`
	Host        string `db:"host"`
	DonateValue string `db:"donate_value"`
}

// InsertMessage appends a message to history and returns its id.
func (s *Store) InsertMessage(m Message) (int64, error) {
	res, err := s.db.Exec(
		"INSERT INTO history (user_id, time, message, dropped, host, donate_value) VALUES (?, ?, ?, ?, ?, ?)",
		m.UserID, m.Time, m.Message, m.Dropped, m.Host, m.DonateValue)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// RecentMessages returns up to limit undropped messages with id greater
// than afterID, newest first. The hello burst reverses this into
// chronological order before sending.
func (s *Store) RecentMessages(afterID int64, limit int) ([]Message, error) {
	var msgs []Message
	err := s.db.Select(&msgs,
		"SELECT id, user_id, message, donate_value, time FROM history WHERE dropped = 0 AND id > ? ORDER BY time DESC LIMIT ?",
		afterID, limit)
	return msgs, err
}

// DropMessage soft-deletes a single message.
func (s *Store) DropMessage(id int64) error {
	_, err := s.db.Exec("UPDATE history SET dropped = 1 WHERE id = ?", id)
	return err
}

// DropUserMessages soft-deletes every undropped message of a user and
// returns the ids that were dropped, for the client-side redaction
// broadcast.
func (s *Store) DropUserMessages(userID int64) ([]int64, error) {
	var ids []int64
	if err := s.db.Select(&ids, "SELECT id FROM history WHERE user_id = ? AND dropped = 0", userID); err != nil {
		return nil, err
	}
	if _, err := s.db.Exec("UPDATE history SET dropped = 1 WHERE user_id = ?", userID); err != nil {
		return nil, err
	}
	return ids, nil
}
