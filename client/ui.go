package client

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/jroimartin/gocui"
	"github.com/sirupsen/logrus"
)

const (
	messagesView = "messages"
	presenceView = "presence"
	statusView   = "status"
	inputView    = "input"
)

// TerminalUI renders a Session with gocui.
type TerminalUI struct {
	Gui     *gocui.Gui
	room    string
	user    string
	session *Session
	logger  logrus.FieldLogger

	mu       sync.Mutex
	messages []string
	presence []PresenceEntry
	typing   string
	status   Status
}

var _ View = (*TerminalUI)(nil)

func NewTerminalUI(room, user string, logger logrus.FieldLogger) *TerminalUI {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &TerminalUI{room: room, user: user, logger: logger}
}

// InitGui initializes the gocui screen
func (ui *TerminalUI) InitGui() error {
	g, err := gocui.NewGui(gocui.OutputNormal)
	if err != nil {
		return fmt.Errorf("failed to initialize gocui: %w", err)
	}
	ui.Gui = g
	g.SetManagerFunc(ui.layout)
	return nil
}

// Attach binds input handling to session.
func (ui *TerminalUI) Attach(session *Session) error {
	ui.session = session
	if err := ui.Gui.SetKeybinding(inputView, gocui.KeyEnter, gocui.ModNone, ui.SendMessageHandler); err != nil {
		return fmt.Errorf("failed to bind enter: %w", err)
	}
	if err := ui.Gui.SetKeybinding("", gocui.KeyCtrlC, gocui.ModNone, ui.quit); err != nil {
		return fmt.Errorf("failed to bind ctrl-c: %w", err)
	}
	return nil
}

// MainLoop runs until the user quits.
func (ui *TerminalUI) MainLoop() error {
	defer ui.Gui.Close()
	if err := ui.Gui.MainLoop(); err != nil && !errors.Is(err, gocui.ErrQuit) {
		return err
	}
	return nil
}

func (ui *TerminalUI) ShowMessage(line ChatLine) {
	text := fmt.Sprintf("[%s] %s", line.User, line.Text)
	if line.User == "" {
		text = line.Text
	}
	if line.FileID != "" {
		text += fmt.Sprintf("  (/get %s <path>)", line.FileID)
	}
	ui.appendMessage(text)
}

func (ui *TerminalUI) ShowPresence(entries []PresenceEntry, typingSummary string) {
	ui.mu.Lock()
	ui.presence = entries
	ui.typing = typingSummary
	ui.mu.Unlock()
	ui.refresh()
}

func (ui *TerminalUI) ShowStatus(status Status) {
	ui.mu.Lock()
	ui.status = status
	ui.mu.Unlock()
	ui.refresh()
}

func (ui *TerminalUI) ShowError(err error) {
	ui.appendMessage("! " + err.Error())
}

func (ui *TerminalUI) appendMessage(text string) {
	ui.mu.Lock()
	ui.messages = append(ui.messages, text)
	ui.mu.Unlock()
	ui.refresh()
}

func (ui *TerminalUI) refresh() {
	if ui.Gui == nil {
		return
	}
	ui.Gui.Update(ui.render)
}

// render redraws every view from the current state.
func (ui *TerminalUI) render(g *gocui.Gui) error {
	ui.mu.Lock()
	defer ui.mu.Unlock()

	if v, err := g.View(messagesView); err == nil {
		v.Clear()
		for _, msg := range ui.messages {
			fmt.Fprintln(v, msg)
		}
	}
	if v, err := g.View(presenceView); err == nil {
		v.Clear()
		for _, e := range ui.presence {
			fmt.Fprintf(v, "%s (%s)\n", e.User, e.Status)
		}
	}
	if v, err := g.View(statusView); err == nil {
		v.Clear()
		fmt.Fprint(v, statusLine(ui.status, ui.typing))
	}
	return nil
}

func statusLine(s Status, typing string) string {
	parts := []string{"offline"}
	if s.Online {
		parts[0] = "online"
	}
	if s.Encrypted {
		parts = append(parts, "encrypted with "+s.Peer)
	} else {
		parts = append(parts, "plaintext")
	}
	if s.Throttled {
		parts = append(parts, "rate limited: "+s.Notice)
	}
	if typing != "" {
		parts = append(parts, typing)
	}
	return strings.Join(parts, " | ")
}

// SendMessageHandler handles sending messages on Enter press
func (ui *TerminalUI) SendMessageHandler(g *gocui.Gui, v *gocui.View) error {
	input := strings.TrimSpace(v.Buffer())
	v.Clear()
	v.SetCursor(0, 0)
	if input == "" {
		return nil
	}

	switch {
	case strings.HasPrefix(input, "/file "):
		ui.sendFile(strings.TrimSpace(strings.TrimPrefix(input, "/file ")))
	case strings.HasPrefix(input, "/get "):
		ui.download(strings.Fields(strings.TrimPrefix(input, "/get ")))
	default:
		if err := ui.session.SendText(input); err != nil {
			ui.ShowError(err)
		}
	}
	return nil
}

func (ui *TerminalUI) sendFile(path string) {
	ui.session.Go("upload", func() {
		data, err := os.ReadFile(path)
		if err != nil {
			ui.ShowError(fmt.Errorf("failed to read file: %w", err))
			return
		}
		mimeType := mime.TypeByExtension(filepath.Ext(path))
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}
		ui.appendMessage("uploading " + filepath.Base(path) + "...")
		if err := ui.session.SendFile(context.Background(), filepath.Base(path), mimeType, data); err != nil {
			ui.ShowError(fmt.Errorf("upload failed, retry with /file: %w", err))
		}
	})
}

func (ui *TerminalUI) download(args []string) {
	if len(args) != 2 {
		ui.ShowError(errors.New("usage: /get <id> <path>"))
		return
	}
	id, dest := args[0], args[1]
	ui.session.Go("download", func() {
		ref, data, err := ui.session.DownloadFile(context.Background(), id)
		if err != nil {
			ui.ShowError(fmt.Errorf("download failed, retry with /get: %w", err))
			return
		}
		if err := os.WriteFile(dest, data, 0o600); err != nil {
			ui.ShowError(fmt.Errorf("failed to write file: %w", err))
			return
		}
		ui.appendMessage(fmt.Sprintf("saved %s to %s", ref.Name, dest))
	})
}

// quit handles quitting the application
func (ui *TerminalUI) quit(_ *gocui.Gui, _ *gocui.View) error {
	ui.logger.Info("Shutting down gracefully...")
	if ui.session != nil {
		ui.session.Close()
	}
	return gocui.ErrQuit
}

func (ui *TerminalUI) keystrokeEditor() gocui.Editor {
	return gocui.EditorFunc(func(v *gocui.View, key gocui.Key, ch rune, mod gocui.Modifier) {
		gocui.DefaultEditor.Edit(v, key, ch, mod)
		if ui.session != nil {
			ui.session.Keystroke()
		}
	})
}

// Layout function for the UI
func (ui *TerminalUI) layout(g *gocui.Gui) error {
	maxX, maxY := g.Size()
	sideX := maxX * 3 / 4

	if v, err := g.SetView(messagesView, 0, 0, sideX-1, maxY-7); err != nil {
		if !errors.Is(err, gocui.ErrUnknownView) {
			return err
		}
		v.Title = fmt.Sprintf("Room %s as %s", ui.room, ui.user)
		v.Autoscroll = true
		v.Wrap = true
	}

	if v, err := g.SetView(presenceView, sideX, 0, maxX-1, maxY-7); err != nil {
		if !errors.Is(err, gocui.ErrUnknownView) {
			return err
		}
		v.Title = "Online"
	}

	if _, err := g.SetView(statusView, 0, maxY-6, maxX-1, maxY-4); err != nil {
		if !errors.Is(err, gocui.ErrUnknownView) {
			return err
		}
	}

	if v, err := g.SetView(inputView, 0, maxY-3, maxX-1, maxY-1); err != nil {
		if !errors.Is(err, gocui.ErrUnknownView) {
			return err
		}
		v.Title = "Type a message (/file <path>, /get <id> <path>)"
		v.Editable = true
		v.Wrap = true
		v.Editor = ui.keystrokeEditor()
		if _, err := g.SetCurrentView(inputView); err != nil {
			return err
		}
		return ui.render(g)
	}

	return nil
}
