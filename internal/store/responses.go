package store

// Responses loads all stored simple command responses as command -> reply.
func (s *Store) Responses() (map[string]string, error) {
	rows, err := s.db.Queryx("SELECT command, response FROM responses")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	responses := make(map[string]string)
	for rows.Next() {
		var command, response string
		if err := rows.Scan(&command, &response); err != nil {
			return nil, err
		}
		responses[command] = response
	}
	return responses, rows.Err()
}

// AddResponse stores a new simple command response.
func (s *Store) AddResponse(command, response string) error {
	_, err := s.db.Exec("INSERT INTO responses (command, response) VALUES (?, ?)", command, response)
	return err
}

// UpdateResponse replaces the reply of an existing simple command.
func (s *Store) UpdateResponse(command, response string) error {
	_, err := s.db.Exec("UPDATE responses SET response = ? WHERE command = ?", response, command)
	return err
}

// DeleteResponse removes a simple command.
func (s *Store) DeleteResponse(command string) error {
	_, err := s.db.Exec("DELETE FROM responses WHERE command = ?", command)
	return err
}
