package ai

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShouldRespond(t *testing.T) {
	p := &Participant{keywords: []string{"帮我", "help"}}

	tests := []struct {
		name           string
		content        string
		groupIsPrivate bool
		aiIsMember     bool
		want           bool
	}{
		{"private chat with AI member always responds", "anything at all", true, true, true},
		{"private chat without AI member falls through", "anything at all", true, false, false},
		{"explicit mention in group chat", "hey @ai can you help", false, false, true},
		{"mention is case insensitive", "@AI are you there", false, false, true},
		{"keyword match", "帮我看看这个", false, false, true},
		{"english keyword match is case insensitive", "can you HELP me", false, false, true},
		{"no trigger at all", "just chatting with friends", false, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := p.shouldRespond(tt.content, tt.groupIsPrivate, tt.aiIsMember)
			assert.Equal(t, tt.want, got)
		})
	}
}
