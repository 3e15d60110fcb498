package server

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"secure-room/common"
	"secure-room/configs"
)

type Server struct {
	ctx       context.Context
	cancelCtx context.CancelFunc

	cfg      *configs.Config
	keys     KeyDirectory
	accounts AccountStore
	blobs    BlobStore
	rooms    map[string]*room
	mutex    *sync.Mutex
	logger   *logrus.Logger
	now      func() time.Time

	// WebSocket upgrader settings
	upgrader *websocket.Upgrader
}

func NewServer(ctx context.Context, cfg *configs.Config, keys KeyDirectory, accounts AccountStore, blobs BlobStore, logger *logrus.Logger) *Server {
	ctx, cancelCtx := context.WithCancel(ctx)
	return &Server{
		ctx:       ctx,
		cancelCtx: cancelCtx,
		cfg:       cfg,
		keys:      keys,
		accounts:  accounts,
		blobs:     blobs,
		rooms:     make(map[string]*room),
		mutex:     &sync.Mutex{},
		logger:    logger,
		now:       time.Now,
		upgrader: &websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Router registers every endpoint on a gorilla/mux router.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc(configs.RegisterPath, s.HandleRegister).Methods(http.MethodPost)
	r.HandleFunc(configs.SessionPath, s.HandleCreateSession).Methods(http.MethodPost)
	r.HandleFunc(configs.PublishKeysPath, s.HandleGetKeys).Methods(http.MethodGet)
	r.HandleFunc(configs.PublishKeysPath, s.HandlePostKeys).Methods(http.MethodPost)
	r.HandleFunc(configs.UploadPath, s.HandleUpload).Methods(http.MethodPost)
	r.HandleFunc(configs.DownloadPath+"{key:.+}", s.HandleDownload).Methods(http.MethodGet)
	r.HandleFunc(configs.WebSocketPath+"{room}", s.HandleConnections)
	return r
}

func (s *Server) Close() {
	s.cancelCtx()
	// Close all WebSocket connections
	s.mutex.Lock()
	for _, rm := range s.rooms {
		rm.mu.Lock()
		for m := range rm.members {
			m.conn.Close()
		}
		rm.mu.Unlock()
	}
	s.mutex.Unlock()

	if c, ok := s.keys.(io.Closer); ok {
		c.Close()
	}
}

// joinRoom adds m to the named room, creating it if needed.
func (s *Server) joinRoom(name string, m *member) *room {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	rm, ok := s.rooms[name]
	if !ok {
		rm = newRoom(name)
		s.rooms[name] = rm
	}
	rm.join(m)
	return rm
}

func (s *Server) leaveRoom(rm *room, m *member) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if rm.leave(m) && s.rooms[rm.name] == rm {
		delete(s.rooms, rm.name)
	}
}

// Handle incoming WebSocket connections
func (s *Server) HandleConnections(w http.ResponseWriter, r *http.Request) {
	user, err := s.authenticate(r, false)
	if err != nil {
		s.logger.Warnf("Rejected WebSocket connection: %v", err)
		http.Error(w, "unauthorized", http.StatusForbidden)
		return
	}
	roomName := mux.Vars(r)["room"]

	// Upgrade HTTP request to WebSocket
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorf("Error upgrading to WebSocket: %v", err)
		return
	}
	defer ws.Close()

	m := &member{user: user, conn: ws}
	rm := s.joinRoom(roomName, m)
	s.logger.Infof("User %s joined room %s, present: %v", user, roomName, rm.users())
	rm.broadcast(common.PresenceUpdateFrame{}, s.logger)

	done := make(chan struct{})
	defer close(done)
	go s.keepalive(m, done)

	// Listen for incoming messages
	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Errorf("Error reading message from user %s: %v", user, err)
			}
			break
		}

		frame, err := common.DecodeFrame(message)
		if err != nil {
			s.logger.Errorf("Invalid message format from user %s: %v", user, err)
			continue
		}
		s.handleFrame(rm, m, frame)
	}

	s.leaveRoom(rm, m)
	rm.broadcast(common.PresenceUpdateFrame{}, s.logger)
	s.logger.Infof("User %s left room %s", user, roomName)
}

func (s *Server) keepalive(m *member, done <-chan struct{}) {
	if s.cfg.PingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := m.send(common.PingFrame{}); err != nil {
				return
			}
		case <-done:
			return
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Server) handleFrame(rm *room, m *member, frame common.Frame) {
	now := s.now()
	timestamp := now.UTC().Format(time.RFC3339)

	switch f := frame.(type) {
	case common.PongFrame:
		return
	case common.GetPresenceFrame:
		if err := m.send(rm.snapshot()); err != nil {
			s.logger.Errorf("Error sending presence to user %s: %v", m.user, err)
		}
		return
	case common.TypingIndicatorFrame:
		status := common.StatusOnline
		if f.Typing {
			status = common.StatusTyping
		}
		if rm.setStatus(m.user, status) {
			rm.broadcast(common.PresenceUpdateFrame{}, s.logger)
		}
		return
	case common.UnknownFrame:
		s.logger.WithField("type", f.RawType).Warnf("Ignoring unknown frame from user %s", m.user)
		return
	}

	if !m.allow(now, s.cfg.RateLimitMessages, s.cfg.RateLimitWindow) {
		s.logger.Warnf("Rate limiting user %s in room %s", m.user, rm.name)
		if err := m.send(common.RateLimitWarningFrame{Message: "You are sending messages too quickly."}); err != nil {
			s.logger.Errorf("Error sending rate limit warning to %s: %v", m.user, err)
		}
		return
	}

	switch f := frame.(type) {
	case common.PlainTextFrame:
		f.User, f.Timestamp = m.user, timestamp
		rm.broadcast(f, s.logger)
	case common.EncryptedTextFrame:
		f.User, f.Timestamp = m.user, timestamp
		rm.broadcast(f, s.logger)
	case common.FileLinkFrame:
		f.User, f.Timestamp = m.user, timestamp
		rm.broadcast(f, s.logger)
	case common.FileAttachmentFrame:
		f.User, f.Timestamp = m.user, timestamp
		rm.broadcast(f, s.logger)
	default:
		s.logger.WithField("type", frame.FrameType()).Debugf("Dropping client frame from %s", m.user)
	}
}
