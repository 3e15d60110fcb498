package client

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"secure-room/common"
)

// TypingNotifier debounces keystrokes into typing_indicator frames.
type TypingNotifier struct {
	send   func(common.Frame) error
	idle   time.Duration
	logger logrus.FieldLogger
	now    func() time.Time

	mu        sync.Mutex
	typing    bool
	announced time.Time
	timer  *time.Timer
	gen    uint64
}

func NewTypingNotifier(send func(common.Frame) error, idle time.Duration, logger logrus.FieldLogger) *TypingNotifier {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &TypingNotifier{send: send, idle: idle, logger: logger, now: time.Now}
}

// Keystroke announces typing=true on the first keystroke of a burst, and again at most
// once per idle period while the burst lasts, then restarts the idle timer that will
// announce typing=false.
func (t *TypingNotifier) Keystroke() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if !t.typing || now.Sub(t.announced) >= t.idle {
		t.typing = true
		t.announced = now
		t.emit(true)
	}

	t.gen++
	gen := t.gen
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(t.idle, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if gen != t.gen || !t.typing {
			return
		}
		t.typing = false
		t.emit(false)
	})
}

// Flush cancels the idle timer and sends typing=false now.
func (t *TypingNotifier) Flush() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancel()
	t.typing = false
	t.emit(false)
}

// Stop cancels the idle timer without sending anything.
func (t *TypingNotifier) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancel()
	t.typing = false
}

func (t *TypingNotifier) cancel() {
	t.gen++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

func (t *TypingNotifier) emit(typing bool) {
	if err := t.send(common.TypingIndicatorFrame{Typing: typing}); err != nil {
		t.logger.WithError(err).Debug("Typing indicator not sent")
	}
}
