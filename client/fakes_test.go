package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"secure-room/common"
)

// fakeConn is an in-memory transport. Frames pushed with deliver are returned by
// ReadMessage in order.
type fakeConn struct {
	inbound chan []byte
	closed  chan struct{}
	once    sync.Once

	mu      sync.Mutex
	written [][]byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbound: make(chan []byte, 64), closed: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data := <-c.inbound:
		return 1, data, nil
	case <-c.closed:
		return 0, nil, errors.New("use of closed connection")
	}
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	select {
	case <-c.closed:
		return errors.New("use of closed connection")
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) deliver(f common.Frame) {
	data, err := common.EncodeFrame(f)
	if err != nil {
		panic(err)
	}
	c.inbound <- data
}

func (c *fakeConn) frames() []common.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]common.Frame, 0, len(c.written))
	for _, data := range c.written {
		f, err := common.DecodeFrame(data)
		if err != nil {
			panic(err)
		}
		out = append(out, f)
	}
	return out
}

// gatedDialer hands out conn once release is closed.
func gatedDialer(conn Conn, release <-chan struct{}) Dialer {
	return func(ctx context.Context) (Conn, error) {
		select {
		case <-release:
			return conn, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// blockingDialer never connects; it returns only when ctx is done.
func blockingDialer(ctx context.Context) (Conn, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func immediateDialer(conn Conn) Dialer {
	return func(context.Context) (Conn, error) { return conn, nil }
}

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// recordingView captures everything a Session renders.
type recordingView struct {
	mu       sync.Mutex
	messages []ChatLine
	presence []PresenceEntry
	typing   string
	statuses []Status
	errors   []error
}

func (v *recordingView) ShowMessage(line ChatLine) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.messages = append(v.messages, line)
}

func (v *recordingView) ShowPresence(entries []PresenceEntry, typing string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.presence = entries
	v.typing = typing
}

func (v *recordingView) ShowStatus(s Status) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.statuses = append(v.statuses, s)
}

func (v *recordingView) ShowError(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.errors = append(v.errors, err)
}

func (v *recordingView) Messages() []ChatLine {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]ChatLine(nil), v.messages...)
}

func (v *recordingView) LastStatus() Status {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.statuses) == 0 {
		return Status{}
	}
	return v.statuses[len(v.statuses)-1]
}

// memoryUploader stores uploads in a map keyed by download URL.
type memoryUploader struct {
	mu      sync.Mutex
	blobs   map[string][]byte
	failing bool
}

func newMemoryUploader() *memoryUploader {
	return &memoryUploader{blobs: make(map[string][]byte)}
}

func (u *memoryUploader) Upload(_ context.Context, name, _ string, data []byte) (common.UploadResult, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.failing {
		return common.UploadResult{}, errors.New("upload proxy unavailable")
	}
	key := "uploads/" + name
	u.blobs["/download/"+key] = append([]byte(nil), data...)
	return common.UploadResult{StorageKey: key, DownloadURL: "/download/" + key}, nil
}

func (u *memoryUploader) Download(_ context.Context, downloadURL string) ([]byte, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.failing {
		return nil, errors.New("upload proxy unavailable")
	}
	data, ok := u.blobs[downloadURL]
	if !ok {
		return nil, errors.New("not found")
	}
	return append([]byte(nil), data...), nil
}

func (u *memoryUploader) count() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.blobs)
}
