package store

// RecordTransaction stores a payment order before validation, with
// succeeded=0. order_id carries a unique index; replaying an order id
// surfaces as a duplicate-key error, check with IsDuplicate.
func (s *Store) RecordTransaction(orderID string, userID, received int64, data, message string) error {
	_, err := s.db.Exec(
		"INSERT INTO transactions (order_id, user_id, time_received, data, message, succeeded) VALUES (?, ?, ?, ?, ?, 0)",
		orderID, userID, received, data, message)
	return err
}
