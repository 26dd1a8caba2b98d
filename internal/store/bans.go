package store

// BannedWords loads the banned-word substrings scanned against every
// broadcast message.
func (s *Store) BannedWords() ([]string, error) {
	var words []string
	err := s.db.Select(&words, "SELECT word FROM banned_words")
	return words, err
}

// IsHostBanned reports whether the peer address has an active host ban.
func (s *Store) IsHostBanned(host string, now int64) (bool, error) {
	var count int
	err := s.db.Get(&count, "SELECT COUNT(*) FROM banned_hosts WHERE host = ? AND `until` > ?", host, now)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// BanHost records a host ban running from started to until, unix seconds.
func (s *Store) BanHost(host string, started, until int64) error {
	_, err := s.db.Exec("INSERT INTO banned_hosts (host, started, `until`) VALUES (?, ?, ?)", host, started, until)
	return err
}
