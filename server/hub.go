package server

import (
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"secure-room/common"
)

// member is one websocket connection in a room.
type member struct {
	user string
	conn *websocket.Conn

	writeMu sync.Mutex

	windowStart time.Time
	windowCount int
}

func (m *member) send(f common.Frame) error {
	data, err := common.EncodeFrame(f)
	if err != nil {
		return err
	}
	return m.sendRaw(data)
}

func (m *member) sendRaw(data []byte) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	m.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return m.conn.WriteMessage(websocket.TextMessage, data)
}

// allow applies the fixed-window message limit. Only the read loop calls it.
func (m *member) allow(now time.Time, limit int, window time.Duration) bool {
	if limit <= 0 {
		return true
	}
	if now.Sub(m.windowStart) >= window {
		m.windowStart = now
		m.windowCount = 0
	}
	m.windowCount++
	return m.windowCount <= limit
}

// room tracks members and the presence map the relay pushes to clients.
type room struct {
	name string

	mu       sync.Mutex
	members  map[*member]struct{}
	presence map[string]common.PresenceStatus
}

func newRoom(name string) *room {
	return &room{
		name:     name,
		members:  make(map[*member]struct{}),
		presence: make(map[string]common.PresenceStatus),
	}
}

func (r *room) join(m *member) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members[m] = struct{}{}
	r.presence[m.user] = common.StatusOnline
}

// leave removes m and reports whether the room is now empty.
func (r *room) leave(m *member) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.members, m)

	stillHere := false
	for other := range r.members {
		if other.user == m.user {
			stillHere = true
			break
		}
	}
	if !stillHere {
		delete(r.presence, m.user)
	}
	return len(r.members) == 0
}

func (r *room) setStatus(user string, status common.PresenceStatus) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.presence[user] == status {
		return false
	}
	r.presence[user] = status
	return true
}

func (r *room) snapshot() common.PresenceListFrame {
	r.mu.Lock()
	defer r.mu.Unlock()
	users := make(map[string]common.PresenceInfo, len(r.presence))
	for u, s := range r.presence {
		users[u] = common.PresenceInfo{Status: s}
	}
	return common.PresenceListFrame{Users: users}
}

func (r *room) users() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	users := make([]string, 0, len(r.presence))
	for u := range r.presence {
		users = append(users, u)
	}
	sort.Strings(users)
	return users
}

func (r *room) broadcast(f common.Frame, logger logrus.FieldLogger) {
	data, err := common.EncodeFrame(f)
	if err != nil {
		logger.Errorf("Error encoding frame for room %s: %v", r.name, err)
		return
	}

	r.mu.Lock()
	members := make([]*member, 0, len(r.members))
	for m := range r.members {
		members = append(members, m)
	}
	r.mu.Unlock()

	for _, m := range members {
		if err := m.sendRaw(data); err != nil {
			logger.Errorf("Error sending message to user %s: %v", m.user, err)
		}
	}
}
