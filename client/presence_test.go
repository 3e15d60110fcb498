package client

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"secure-room/common"
)

func TestPresenceTrackerReplacesSnapshot(t *testing.T) {
	tests := []struct {
		name       string
		viewer     string
		wantTyping string
	}{
		{name: "viewed by another user", viewer: "A", wantTyping: "B is typing..."},
		{name: "viewed by the typist", viewer: "B", wantTyping: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker := NewPresenceTracker(tt.viewer)
			tracker.Apply(map[string]common.PresenceInfo{"A": {Status: common.StatusOnline}})
			entries, summary := tracker.Apply(map[string]common.PresenceInfo{"B": {Status: common.StatusTyping}})

			assert.Equal(t, []PresenceEntry{{User: "B", Status: common.StatusTyping}}, entries)
			assert.Equal(t, tt.wantTyping, summary)
		})
	}
}

func TestTypingSummary(t *testing.T) {
	tests := []struct {
		name    string
		typists []string
		want    string
	}{
		{name: "nobody", want: ""},
		{name: "one", typists: []string{"bob"}, want: "bob is typing..."},
		{name: "two sorted", typists: []string{"carol", "bob"}, want: "bob and carol are typing..."},
		{name: "three", typists: []string{"bob", "carol", "dave"}, want: "Multiple people are typing..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TypingSummary(tt.typists))
		})
	}
}

func TestPresenceTrackerExcludesViewer(t *testing.T) {
	tracker := NewPresenceTracker("alice")
	entries, summary := tracker.Apply(map[string]common.PresenceInfo{
		"alice": {Status: common.StatusTyping},
		"bob":   {Status: common.StatusTyping},
		"carol": {Status: common.StatusTyping},
		"dave":  {Status: common.StatusTyping},
		"erin":  {Status: common.StatusOnline},
	})

	assert.Len(t, entries, 5)
	assert.Equal(t, "alice", entries[0].User)
	assert.Equal(t, "Multiple people are typing...", summary)
	assert.Equal(t, []string{"bob", "carol", "dave", "erin"}, tracker.Others())

	_, summary = tracker.Apply(map[string]common.PresenceInfo{
		"alice": {Status: common.StatusTyping},
		"bob":   {Status: common.StatusTyping},
	})
	assert.Equal(t, "bob is typing...", summary)
}
