package services

import (
	"sync"

	"github.com/shellmux/shellmux/internal/logger"
)

// Subscriber is one client connection as the router sees it. The websocket
// handler implements it with a write-locked connection; tests implement it
// with an in-memory recorder.
type Subscriber interface {
	// SendEvent delivers one wire event to the client. Implementations must
	// be safe for concurrent calls.
	SendEvent(event string, payload any) error
}

// Router fans session output out to the client connections joined to that
// session's room. Membership is a pure routing relation: joining confers no
// ownership over the session, and emitting for session A can never reach a
// connection joined only to session B.
type Router struct {
	mu    sync.RWMutex
	rooms map[string]map[Subscriber]struct{}
}

func NewRouter() *Router {
	return &Router{
		rooms: make(map[string]map[Subscriber]struct{}),
	}
}

// Join adds conn to the room for sessionID.
func (r *Router) Join(conn Subscriber, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[sessionID]
	if !ok {
		room = make(map[Subscriber]struct{})
		r.rooms[sessionID] = room
	}
	room[conn] = struct{}{}
	logger.Debugf("🔗 Connection joined room %s (members: %d)", sessionID, len(room))
}

// Leave removes conn from the room for sessionID.
func (r *Router) Leave(conn Subscriber, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(conn, sessionID)
}

// LeaveAll removes conn from every room. Called when a client disconnects.
func (r *Router) LeaveAll(conn Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for sessionID := range r.rooms {
		r.leaveLocked(conn, sessionID)
	}
}

// DropSession removes the whole room for a destroyed session.
func (r *Router) DropSession(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rooms, sessionID)
}

// Members returns the current number of connections in a session's room.
func (r *Router) Members(sessionID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[sessionID])
}

// Emit delivers an event to every connection joined to sessionID and to no
// one else. Sends happen outside the membership lock, so emits for one
// session never block joins on another. Connections whose send fails are
// dropped from all rooms.
func (r *Router) Emit(sessionID, event string, payload any) {
	r.mu.RLock()
	room := r.rooms[sessionID]
	members := make([]Subscriber, 0, len(room))
	for conn := range room {
		members = append(members, conn)
	}
	r.mu.RUnlock()

	var dead []Subscriber
	for _, conn := range members {
		if err := conn.SendEvent(event, payload); err != nil {
			logger.Debugf("❌ Send failed for room %s, dropping connection: %v", sessionID, err)
			dead = append(dead, conn)
		}
	}

	for _, conn := range dead {
		r.LeaveAll(conn)
	}
}

func (r *Router) leaveLocked(conn Subscriber, sessionID string) {
	room, ok := r.rooms[sessionID]
	if !ok {
		return
	}
	if _, member := room[conn]; !member {
		return
	}
	delete(room, conn)
	if len(room) == 0 {
		delete(r.rooms, sessionID)
	}
}
