package services

import (
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/AnshRaj112/circles-backend/internal/models"
)

// Conn is one live client connection.
type Conn interface {
	ID() string
	// Send enqueues a rendered frame. It must not block: the registry lock is
	// held while frames are dispatched.
	Send(frame []byte) error
	Close() error
}

// JoinResult describes the effect of binding a connection to a user.
type JoinResult struct {
	Change models.PresenceChange
	// First is true when this is the user's only live connection.
	First bool
	// Rejoin is true when the connection was already bound to the same user.
	Rejoin bool
}

// LeaveResult describes the effect of removing a connection.
type LeaveResult struct {
	UserID string
	Change models.PresenceChange
	// Last is true when the user has no live connection left.
	Last  bool
	Known bool
}

// ConnectionRegistry maps user identities to live connections. One mutex guards
// every mutation and every dispatch, so presence and message fan-out observe a
// single order.
type ConnectionRegistry struct {
	mu       sync.Mutex
	conns    map[string]Conn
	identity map[string]string
	users    map[string]map[string]Conn
	lastSeen map[string]time.Time
	now      func() time.Time
}

func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{
		conns:    make(map[string]Conn),
		identity: make(map[string]string),
		users:    make(map[string]map[string]Conn),
		lastSeen: make(map[string]time.Time),
		now:      time.Now,
	}
}

// Add tracks a freshly opened, still anonymous connection so it receives global broadcasts.
func (r *ConnectionRegistry) Add(c Conn) {
	r.mu.Lock()
	r.conns[c.ID()] = c
	r.mu.Unlock()
}

// Register binds c to userID. announce, when non-nil, runs under the registry
// lock with a snapshot of every open connection.
func (r *ConnectionRegistry) Register(c Conn, userID string, announce func(res JoinResult, all []Conn)) (JoinResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().UTC()
	id := c.ID()
	if bound, ok := r.identity[id]; ok {
		if bound != userID {
			return JoinResult{}, ErrAlreadyIdentified
		}
		res := JoinResult{
			Change: models.PresenceChange{UserID: userID, Status: models.PresenceOnline, LastSeen: now},
			Rejoin: true,
		}
		if announce != nil {
			announce(res, lo.Values(r.conns))
		}
		return res, nil
	}

	r.conns[id] = c
	r.identity[id] = userID
	set, ok := r.users[userID]
	if !ok {
		set = make(map[string]Conn)
		r.users[userID] = set
	}
	set[id] = c

	res := JoinResult{
		Change: models.PresenceChange{UserID: userID, Status: models.PresenceOnline, LastSeen: now},
		First:  len(set) == 1,
	}
	if res.First {
		r.lastSeen[userID] = now
	}
	if announce != nil {
		announce(res, lo.Values(r.conns))
	}
	return res, nil
}

// Unregister removes c. Unknown connections are a no-op. When c was the user's
// last connection, announce runs under the lock with the connections that remain open.
func (r *ConnectionRegistry) Unregister(c Conn, announce func(res LeaveResult, remaining []Conn)) LeaveResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := c.ID()
	if _, ok := r.conns[id]; !ok {
		return LeaveResult{}
	}
	delete(r.conns, id)

	res := LeaveResult{Known: true}
	userID, ok := r.identity[id]
	if !ok {
		return res
	}
	delete(r.identity, id)
	res.UserID = userID

	if set := r.users[userID]; set != nil {
		delete(set, id)
		if len(set) == 0 {
			delete(r.users, userID)
			now := r.now().UTC()
			r.lastSeen[userID] = now
			res.Last = true
			res.Change = models.PresenceChange{UserID: userID, Status: models.PresenceOffline, LastSeen: now}
		}
	}
	if res.Last && announce != nil {
		announce(res, lo.Values(r.conns))
	}
	return res
}

// ConnectionsFor returns a snapshot of userID's live connections.
func (r *ConnectionRegistry) ConnectionsFor(userID string) []Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	return lo.Values(r.users[userID])
}

// Dispatch runs fn under the registry lock with the live connections of every
// listed user. Duplicate user ids are collapsed.
func (r *ConnectionRegistry) Dispatch(fn func(conns []Conn), userIDs ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var conns []Conn
	for _, userID := range lo.Uniq(userIDs) {
		conns = append(conns, lo.Values(r.users[userID])...)
	}
	fn(conns)
}

// DispatchAll runs fn under the registry lock with every open connection.
func (r *ConnectionRegistry) DispatchAll(fn func(conns []Conn)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(lo.Values(r.conns))
}

func (r *ConnectionRegistry) IsOnline(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users[userID]) > 0
}

// UserFor returns the identity bound to a connection id.
func (r *ConnectionRegistry) UserFor(connID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	userID, ok := r.identity[connID]
	return userID, ok
}

// LastSeen is the time of the user's last 0->1 or 1->0 transition in this process.
func (r *ConnectionRegistry) LastSeen(userID string) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.lastSeen[userID]
	return t, ok
}

func (r *ConnectionRegistry) OnlineUsers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return lo.Keys(r.users)
}

func (r *ConnectionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// CloseAll closes every open connection. Each transport then runs its own disconnect path.
func (r *ConnectionRegistry) CloseAll() {
	r.mu.Lock()
	conns := lo.Values(r.conns)
	r.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
}
