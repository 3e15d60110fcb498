package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"secure-room/common"
	"secure-room/configs"
	"secure-room/protocol/envelope"
)

// View is the UI surface a Session renders into. Implementations must be safe to call
// from any goroutine.
type View interface {
	ShowMessage(ChatLine)
	ShowPresence(entries []PresenceEntry, typingSummary string)
	ShowStatus(Status)
	ShowError(err error)
}

// ChatLine is one rendered chat message.
type ChatLine struct {
	User      string
	Timestamp string
	Text      string
	FileID    string
	Encrypted bool
}

// Status is the connection and encryption indicator.
type Status struct {
	Online    bool
	Encrypted bool
	Throttled bool
	Peer      string
	Notice    string
}

// KeyAgreement establishes the session key for an identity.
type KeyAgreement interface {
	Establish(ctx context.Context, id common.Identity) (*envelope.SessionKey, common.PeerKeyRecord, error)
}

type SessionOptions struct {
	Identity       common.Identity
	View           View
	Agreement      KeyAgreement
	Dialer         Dialer
	Files          *FileTransfer
	ThrottleWindow time.Duration
	TypingIdle     time.Duration
	Clock          func() time.Time
	Logger         logrus.FieldLogger
}

// sessionState is all mutable per-session state. Every handler goes through it under mu.
type sessionState struct {
	mu sync.Mutex

	key       *envelope.SessionKey
	peer      string
	online    bool
	throttled bool
	notice    string
	agreeing  bool
	// others as seen by the last agreement retry
	triedWith string
}

// Session wires key agreement, the connection, presence, typing and file transfer
// for one (room, user).
type Session struct {
	id        common.Identity
	view      View
	agreement KeyAgreement
	files     *FileTransfer
	logger    logrus.FieldLogger

	conn     *ConnectionManager
	typing   *TypingNotifier
	presence *PresenceTracker

	state sessionState
	ctx   context.Context
	wg    sync.WaitGroup
}

// NewSession validates the required handles. A missing handle is fatal and nothing is
// started.
func NewSession(opts SessionOptions) (*Session, error) {
	switch {
	case opts.View == nil:
		return nil, fmt.Errorf("%w: view", ErrMissingHandle)
	case opts.Agreement == nil:
		return nil, fmt.Errorf("%w: key agreement", ErrMissingHandle)
	case opts.Dialer == nil:
		return nil, fmt.Errorf("%w: dialer", ErrMissingHandle)
	case opts.Files == nil:
		return nil, fmt.Errorf("%w: file transfer", ErrMissingHandle)
	case opts.Identity.Room == "" || opts.Identity.User == "":
		return nil, fmt.Errorf("%w: identity", ErrMissingHandle)
	}

	if opts.ThrottleWindow == 0 {
		opts.ThrottleWindow = configs.ThrottleWindow
	}
	if opts.TypingIdle == 0 {
		opts.TypingIdle = configs.TypingIdle
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	logger = logger.WithFields(logrus.Fields{"room": opts.Identity.Room, "user": opts.Identity.User})

	s := &Session{
		id:        opts.Identity,
		view:      opts.View,
		agreement: opts.Agreement,
		files:     opts.Files,
		logger:    logger,
		presence:  NewPresenceTracker(opts.Identity.User),
		ctx:       context.Background(),
	}
	s.conn = NewConnectionManager(opts.Dialer, ConnectionHandlers{
		OnFrame:    s.handleFrame,
		OnStatus:   s.handleStatus,
		OnThrottle: s.handleThrottle,
	}, opts.ThrottleWindow, opts.Clock, logger)
	s.typing = NewTypingNotifier(s.conn.Send, opts.TypingIdle, logger)
	return s, nil
}

// Start runs key agreement (failure only disables encryption) and then opens the
// connection regardless of the outcome.
func (s *Session) Start(ctx context.Context) {
	s.ctx = ctx
	s.agree(ctx)
	s.pushStatus()
	s.conn.Open(ctx)
}

func (s *Session) agree(ctx context.Context) {
	key, peer, err := s.agreement.Establish(ctx, s.id)
	if err != nil {
		s.logger.WithError(err).Warn("Key agreement failed, continuing without encryption")
		return
	}

	st := &s.state
	st.mu.Lock()
	if st.key == nil {
		st.key = key
		st.peer = peer.User
	}
	st.mu.Unlock()
}

// Encrypted reports whether a session key exists.
func (s *Session) Encrypted() bool {
	key, _ := s.sessionKey()
	return key != nil
}

func (s *Session) sessionKey() (*envelope.SessionKey, string) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	return s.state.key, s.state.peer
}

// Go runs fn in its own goroutine; a panic is logged and does not reach other tasks.
func (s *Session) Go(task string, fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.logger.WithField("task", task).Errorf("Recovered from panic: %v", r)
			}
		}()
		fn()
	}()
}

// SendText encrypts text when a key exists and sends it. It always clears the local
// typing state first.
func (s *Session) SendText(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if s.conn.Throttled() {
		return ErrThrottled
	}
	s.typing.Flush()

	key, _ := s.sessionKey()
	if key == nil {
		return s.conn.Send(common.PlainTextFrame{Message: text})
	}
	env, err := envelope.EncryptText(key, text)
	if err != nil {
		return fmt.Errorf("failed to encrypt message: %w", err)
	}
	return s.conn.Send(common.EncryptedTextFrame{IV: env.IV, Ciphertext: env.Ciphertext})
}

// SendFile shares a file. Without a key only a placeholder message is sent.
func (s *Session) SendFile(ctx context.Context, name, mimeType string, data []byte) error {
	if s.conn.Throttled() {
		return ErrThrottled
	}
	key, _ := s.sessionKey()
	outcome, err := s.files.SendFile(ctx, data, name, mimeType, key)
	if err != nil {
		return err
	}
	return s.conn.Send(outcome.Frame)
}

// DownloadFile fetches and decrypts a file announced earlier in this session.
func (s *Session) DownloadFile(ctx context.Context, fileID string) (common.FileReference, []byte, error) {
	ref, ok := s.files.Lookup(fileID)
	if !ok {
		return common.FileReference{}, nil, ErrUnknownFile
	}
	key, _ := s.sessionKey()
	data, err := s.files.ReceiveFileReference(ctx, ref, key)
	if err != nil {
		return ref, nil, err
	}
	return ref, data, nil
}

func (s *Session) Keystroke() {
	s.typing.Keystroke()
}

func (s *Session) Throttled() bool {
	return s.conn.Throttled()
}

// Close tears down the connection and waits for background work.
func (s *Session) Close() {
	s.typing.Stop()
	s.conn.Close()
	s.conn.Wait()
	s.wg.Wait()
}

func (s *Session) handleStatus(online bool) {
	s.state.mu.Lock()
	s.state.online = online
	s.state.mu.Unlock()
	s.pushStatus()
}

func (s *Session) handleThrottle(throttled bool, message string) {
	s.state.mu.Lock()
	s.state.throttled = throttled
	s.state.notice = message
	s.state.mu.Unlock()
	s.pushStatus()
}

func (s *Session) pushStatus() {
	st := &s.state
	st.mu.Lock()
	status := Status{
		Online:    st.online,
		Encrypted: st.key != nil,
		Throttled: st.throttled,
		Peer:      st.peer,
		Notice:    st.notice,
	}
	st.mu.Unlock()
	s.view.ShowStatus(status)
}

// handleFrame dispatches frames the connection did not consume (ping and
// rate_limit_warning are handled there), control frames first.
func (s *Session) handleFrame(frame common.Frame) {
	switch f := frame.(type) {
	case common.PresenceUpdateFrame:
		if err := s.conn.Send(common.GetPresenceFrame{}); err != nil {
			s.logger.WithError(err).Warn("Error requesting presence")
		}
	case common.PresenceListFrame:
		s.handlePresence(f)
	case common.FileLinkFrame:
		s.handleFileLink(f)
	case common.FileAttachmentFrame:
		id := s.files.Remember(f.File)
		s.view.ShowMessage(ChatLine{
			User:      f.User,
			Timestamp: f.Timestamp,
			Text:      "shared " + f.File.Name,
			FileID:    id,
		})
	case common.EncryptedTextFrame:
		s.handleEncryptedText(f)
	case common.PlainTextFrame:
		s.view.ShowMessage(ChatLine{User: f.User, Timestamp: f.Timestamp, Text: f.Message})
	case common.UnknownFrame:
		s.logger.WithField("type", f.RawType).Warn("Ignoring unknown frame")
	default:
		s.logger.WithField("type", frame.FrameType()).Debug("Ignoring frame")
	}
}

func (s *Session) handlePresence(f common.PresenceListFrame) {
	entries, summary := s.presence.Apply(f.Users)
	s.view.ShowPresence(entries, summary)

	others := s.presence.Others()
	if len(others) == 0 {
		return
	}
	seen := strings.Join(others, "\n")

	st := &s.state
	st.mu.Lock()
	retry := st.key == nil && !st.agreeing && st.triedWith != seen
	if retry {
		st.agreeing = true
		st.triedWith = seen
	}
	st.mu.Unlock()
	if !retry {
		return
	}

	// a peer may have joined after our first attempt
	s.Go("key agreement retry", func() {
		defer func() {
			st.mu.Lock()
			st.agreeing = false
			st.mu.Unlock()
		}()
		s.agree(s.ctx)
		s.pushStatus()
	})
}

func (s *Session) handleFileLink(f common.FileLinkFrame) {
	key, _ := s.sessionKey()
	ref, err := s.files.OpenFileLink(key, f)
	if err != nil {
		s.logger.WithError(err).WithField("from", f.User).Warn("Error opening file link")
		s.view.ShowMessage(ChatLine{User: f.User, Timestamp: f.Timestamp, Text: configs.UndecryptableText})
		return
	}
	id := s.files.Remember(ref)
	s.view.ShowMessage(ChatLine{
		User:      f.User,
		Timestamp: f.Timestamp,
		Text:      "shared " + ref.Name,
		FileID:    id,
		Encrypted: true,
	})
}

func (s *Session) handleEncryptedText(f common.EncryptedTextFrame) {
	key, _ := s.sessionKey()
	line := ChatLine{User: f.User, Timestamp: f.Timestamp, Text: configs.UndecryptableText}

	text, err := envelope.DecryptText(key, envelope.Envelope{IV: f.IV, Ciphertext: f.Ciphertext})
	switch {
	case err == nil:
		line.Text = text
		line.Encrypted = true
	case errors.Is(err, envelope.ErrInvalidKey):
		s.logger.WithField("from", f.User).Debug("Encrypted message received without a session key")
	default:
		s.logger.WithError(err).WithField("from", f.User).Warn("Error decrypting message")
	}
	s.view.ShowMessage(line)
}
