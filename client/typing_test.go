package client

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"secure-room/common"
)

type typingRecorder struct {
	mu     sync.Mutex
	values []bool
}

func (r *typingRecorder) send(f common.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values = append(r.values, f.(common.TypingIndicatorFrame).Typing)
	return nil
}

func (r *typingRecorder) get() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.values...)
}

func TestTypingNotifierIdle(t *testing.T) {
	rec := &typingRecorder{}
	n := NewTypingNotifier(rec.send, 30*time.Millisecond, nil)

	n.Keystroke()
	n.Keystroke()
	n.Keystroke()
	assert.Equal(t, []bool{true}, rec.get())

	require.Eventually(t, func() bool { return len(rec.get()) == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, []bool{true, false}, rec.get())

	n.Keystroke()
	assert.Equal(t, []bool{true, false, true}, rec.get())
	n.Stop()
}

func TestTypingNotifierFlush(t *testing.T) {
	rec := &typingRecorder{}
	n := NewTypingNotifier(rec.send, 20*time.Millisecond, nil)

	n.Keystroke()
	n.Flush()
	assert.Equal(t, []bool{true, false}, rec.get())

	// the cancelled idle timer must not send a second false
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, []bool{true, false}, rec.get())

	n.Flush()
	assert.Equal(t, []bool{true, false, false}, rec.get())
}

func TestTypingNotifierLongBurst(t *testing.T) {
	rec := &typingRecorder{}
	clock := newFakeClock()
	n := NewTypingNotifier(rec.send, time.Hour, nil)
	n.now = clock.Now
	defer n.Stop()

	tests := []struct {
		name    string
		advance time.Duration
		want    []bool
	}{
		{name: "first keystroke", advance: 0, want: []bool{true}},
		{name: "within the idle period", advance: 30 * time.Minute, want: []bool{true}},
		{name: "idle period elapsed mid burst", advance: 30 * time.Minute, want: []bool{true, true}},
		{name: "right after re-announcing", advance: time.Minute, want: []bool{true, true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock.Advance(tt.advance)
			n.Keystroke()
			assert.Equal(t, tt.want, rec.get())
		})
	}
}
