package common

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

const (
	TypePing             = "ping"
	TypePong             = "pong"
	TypePresenceUpdate   = "presence_update"
	TypePresenceList     = "presence_list"
	TypeRateLimitWarning = "rate_limit_warning"
	TypeGetPresence      = "get_presence"
	TypeTypingIndicator  = "typing_indicator"
	TypeFileLink         = "file_link"
)

var (
	ErrMalformedFrame = errors.New("malformed frame")
)

// Frame is one JSON message on the room transport. Exactly one concrete type exists per
// wire shape; anything else decodes to UnknownFrame.
type Frame interface {
	// FrameType is the value of the "type" field, or "" for untyped chat frames.
	FrameType() string
}

type PingFrame struct{}

type PongFrame struct {
	Timestamp int64 `json:"timestamp"`
}

type PresenceUpdateFrame struct{}

type PresenceListFrame struct {
	Users map[string]PresenceInfo `json:"users"`
}

type RateLimitWarningFrame struct {
	Message string `json:"message"`
}

type GetPresenceFrame struct{}

type TypingIndicatorFrame struct {
	User   string `json:"user,omitempty"`
	Typing bool   `json:"typing"`
}

// FileLinkFrame announces an encrypted FileReference.
type FileLinkFrame struct {
	User       string `json:"user,omitempty"`
	Timestamp  string `json:"timestamp,omitempty"`
	IV         string `json:"iv"`
	Ciphertext string `json:"ciphertext"`
	Name       string `json:"name,omitempty"`
}

type FileAttachmentFrame struct {
	User      string        `json:"user,omitempty"`
	Timestamp string        `json:"timestamp,omitempty"`
	File      FileReference `json:"file"`
}

type EncryptedTextFrame struct {
	User       string `json:"user,omitempty"`
	Timestamp  string `json:"timestamp,omitempty"`
	IV         string `json:"iv"`
	Ciphertext string `json:"ciphertext"`
}

type PlainTextFrame struct {
	User      string `json:"user,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Message   string `json:"message"`
}

// UnknownFrame keeps frames with an unrecognised type or shape so callers can log them.
type UnknownFrame struct {
	RawType string
	Raw     []byte
}

func (PingFrame) FrameType() string             { return TypePing }
func (PongFrame) FrameType() string             { return TypePong }
func (PresenceUpdateFrame) FrameType() string   { return TypePresenceUpdate }
func (PresenceListFrame) FrameType() string     { return TypePresenceList }
func (RateLimitWarningFrame) FrameType() string { return TypeRateLimitWarning }
func (GetPresenceFrame) FrameType() string      { return TypeGetPresence }
func (TypingIndicatorFrame) FrameType() string  { return TypeTypingIndicator }
func (FileLinkFrame) FrameType() string         { return TypeFileLink }
func (FileAttachmentFrame) FrameType() string   { return "" }
func (EncryptedTextFrame) FrameType() string    { return "" }
func (PlainTextFrame) FrameType() string        { return "" }
func (f UnknownFrame) FrameType() string        { return f.RawType }

// DecodeFrame classifies a raw transport message.
func DecodeFrame(data []byte) (Frame, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	var typ string
	if raw, ok := fields["type"]; ok {
		if err := json.Unmarshal(raw, &typ); err != nil {
			return nil, fmt.Errorf("%w: type: %v", ErrMalformedFrame, err)
		}
	}

	switch typ {
	case TypePing:
		return PingFrame{}, nil
	case TypePong:
		return decodeInto[PongFrame](data)
	case TypePresenceUpdate:
		return PresenceUpdateFrame{}, nil
	case TypePresenceList:
		return decodeInto[PresenceListFrame](data)
	case TypeRateLimitWarning:
		return decodeInto[RateLimitWarningFrame](data)
	case TypeGetPresence:
		return GetPresenceFrame{}, nil
	case TypeTypingIndicator:
		return decodeInto[TypingIndicatorFrame](data)
	case TypeFileLink:
		return decodeInto[FileLinkFrame](data)
	case "":
		return decodeUntyped(fields, data)
	default:
		return UnknownFrame{RawType: typ, Raw: data}, nil
	}
}

func decodeUntyped(fields map[string]json.RawMessage, data []byte) (Frame, error) {
	_, hasFile := fields["file"]
	_, hasIV := fields["iv"]
	_, hasCiphertext := fields["ciphertext"]
	_, hasMessage := fields["message"]

	switch {
	case hasFile:
		return decodeInto[FileAttachmentFrame](data)
	case hasIV && hasCiphertext:
		return decodeInto[EncryptedTextFrame](data)
	case hasMessage:
		return decodeInto[PlainTextFrame](data)
	default:
		return UnknownFrame{Raw: data}, nil
	}
}

func decodeInto[T Frame](data []byte) (Frame, error) {
	var f T
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return f, nil
}

// EncodeFrame renders f in its wire shape, adding the "type" field for typed frames.
func EncodeFrame(f Frame) ([]byte, error) {
	if u, ok := f.(UnknownFrame); ok {
		return u.Raw, nil
	}

	body, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal frame: %w", err)
	}
	typ := f.FrameType()
	if typ == "" {
		return body, nil
	}

	head, err := json.Marshal(map[string]string{"type": typ})
	if err != nil {
		return nil, err
	}
	if bytes.Equal(body, []byte("{}")) {
		return head, nil
	}
	// splice {"type":"x"} and {...} into {"type":"x",...}
	out := make([]byte, 0, len(head)+len(body))
	out = append(out, head[:len(head)-1]...)
	out = append(out, ',')
	return append(out, body[1:]...), nil
}
