package chat

// registry is the two-way mapping between user ids and their live
// connections. User id 0 marks observers: connected sockets that have
// not authenticated. The registry is owned by the chat loop and never
// locked.
type registry struct {
	byUser map[int64][]*Conn
	byConn map[*Conn]int64
}

func newRegistry() *registry {
	return &registry{
		byUser: make(map[int64][]*Conn),
		byConn: make(map[*Conn]int64),
	}
}

// insert records conn under userID. It reports whether this was the
// first connection for a non-zero user, which is the room-join edge.
func (r *registry) insert(userID int64, conn *Conn) bool {
	joined := false

	if userID != 0 {
		conns := r.byUser[userID]
		joined = len(conns) == 0
		if !containsConn(conns, conn) {
			r.byUser[userID] = append(conns, conn)
		}
	}

	r.byConn[conn] = userID
	return joined
}

// remove drops conn from both indexes. When it was the last connection
// of a non-zero user, that user id is returned so the caller can
// broadcast the part; otherwise remove returns 0.
func (r *registry) remove(conn *Conn) int64 {
	userID, ok := r.byConn[conn]
	if !ok {
		return 0
	}
	delete(r.byConn, conn)

	if userID == 0 {
		return 0
	}

	conns := r.byUser[userID]
	for i, c := range conns {
		if c == conn {
			conns = append(conns[:i], conns[i+1:]...)
			break
		}
	}
	if len(conns) == 0 {
		delete(r.byUser, userID)
		return userID
	}
	r.byUser[userID] = conns
	return 0
}

// connsFor returns the live connections of a user.
func (r *registry) connsFor(userID int64) []*Conn {
	return r.byUser[userID]
}

// users returns the ids of all users with at least one connection.
func (r *registry) users() []int64 {
	ids := make([]int64, 0, len(r.byUser))
	for id := range r.byUser {
		ids = append(ids, id)
	}
	return ids
}

// userFor returns the user id a connection is registered under.
func (r *registry) userFor(conn *Conn) int64 {
	return r.byConn[conn]
}

// broadcast sends data to every registered connection, observers
// included.
func (r *registry) broadcast(data []byte) {
	for conn := range r.byConn {
		conn.enqueue(data)
	}
}

func containsConn(conns []*Conn, conn *Conn) bool {
	for _, c := range conns {
		if c == conn {
			return true
		}
	}
	return false
}
