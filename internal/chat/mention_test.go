package chat

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContainsGreeting(t *testing.T) {
	tests := []struct {
		line string
		want bool
	}{
		{"hello @kcbot", true},
		{"HELLO @kcbot", true},
		{"hey there @kcbot", true},
		{"sup @kcbot", true},
		{"@kcbot whats up", true},
		{"@kcbot what's up with you", true},
		{"@kcbot how are you", false},
		{"othello @kcbot", false}, // whole-word match for single words
		{"@kcbot is it working", false},
	}

	for _, tc := range tests {
		t.Run(tc.line, func(t *testing.T) {
			assert.Equal(t, tc.want, containsGreeting(tc.line))
		})
	}
}

func TestMentionGreetsMembers(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.doMention(NewRequest("hello @kcbot", "alice", 5, levelMember))
	require.True(t, resp.IsValid())
	assert.True(t, resp.IsPublic())
	assert.Equal(t, "Hey @alice!", resp.Message())
}

func TestMentionSnubsNonMembers(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.doMention(NewRequest("hi @kcbot", "randomer", 6, levelUser))
	require.True(t, resp.IsValid())
	assert.Equal(t, "I only say hello to subscribers", resp.Message())
}

func TestMentionEightBall(t *testing.T) {
	ts := newTestServer(t)

	// Every possible roll yields the corresponding canned answer.
	for i, want := range eightBallReplies {
		roll := i
		ts.randn = func(n int) int {
			require.Equal(t, len(eightBallReplies), n)
			return roll
		}

		resp := ts.doMention(NewRequest("@kcbot is it working?", "alice", 5, levelUser))
		require.True(t, resp.IsValid(), "roll %d", i)
		assert.True(t, resp.IsPublic())
		assert.Equal(t, want, resp.Message())
	}
}

func TestMentionEightBallCaseInsensitivePrefix(t *testing.T) {
	ts := newTestServer(t)
	ts.randn = func(int) int { return 0 }

	resp := ts.doMention(NewRequest("@KCBot will it rain?", "alice", 5, levelUser))
	assert.True(t, resp.IsValid())
}

func TestMentionNoResponse(t *testing.T) {
	ts := newTestServer(t)

	// Mid-line mention without a greeting or a trailing question mark.
	resp := ts.doMention(NewRequest("I think @kcbot is broken", "alice", 5, levelUser))
	assert.False(t, resp.IsValid())

	// Question not addressed to the bot at the start of the line.
	resp = ts.doMention(NewRequest("is @kcbot working?", "alice", 5, levelUser))
	assert.False(t, resp.IsValid())
}

func TestEightBallListComplete(t *testing.T) {
	require.Len(t, eightBallReplies, 20)
	seen := make(map[string]bool)
	for _, reply := range eightBallReplies {
		require.False(t, seen[reply], fmt.Sprintf("duplicate reply %q", reply))
		seen[reply] = true
	}
}
