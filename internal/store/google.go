package store

// Google identity storage: google_ids caches verified id-tokens so
// repeat frames skip the tokeninfo round-trip, google_users binds a
// Google subject to a local user id.

// PurgeExpiredTokens deletes cached id-tokens whose expiry has passed.
func (s *Store) PurgeExpiredTokens(now int64) error {
	_, err := s.db.Exec("DELETE FROM google_ids WHERE expiry < ?", now)
	return err
}

// CachedTokenSub looks up the subject for a previously verified id-token.
func (s *Store) CachedTokenSub(token string) (string, bool, error) {
	var sub string
	err := s.db.Get(&sub, "SELECT sub FROM google_ids WHERE id_token = ?", token)
	if err != nil {
		if isNoRows(err) {
			return "", false, nil
		}
		return "", false, err
	}
	return sub, true, nil
}

// CacheToken stores a verified id-token with its subject and expiry.
func (s *Store) CacheToken(token, sub string, expiry int64) error {
	_, err := s.db.Exec("INSERT INTO google_ids (id_token, sub, expiry) VALUES (?, ?, ?)", token, sub, expiry)
	return err
}

// UserForSub resolves a Google subject to a local user id.
func (s *Store) UserForSub(sub string) (int64, bool, error) {
	var id int64
	err := s.db.Get(&id, "SELECT user_id FROM google_users WHERE sub = ?", sub)
	if err != nil {
		if isNoRows(err) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return id, true, nil
}

// BindSub links a Google subject to a local user id.
func (s *Store) BindSub(sub string, userID int64) error {
	_, err := s.db.Exec("INSERT INTO google_users (sub, user_id) VALUES (?, ?)", sub, userID)
	return err
}
