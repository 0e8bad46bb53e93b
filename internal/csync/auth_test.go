package csync

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/openmined/treesync/internal/engine"
)

func TestAnswer(t *testing.T) {
	b := NewAuthBridge(Credentials{User: "alice", Password: "s3cret"}, nil)

	tests := []struct {
		prompt string
		want   string
		ok     bool
	}{
		{engine.PromptUsername, "alice", true},
		{"  " + engine.PromptPassword + "\n", "s3cret", true},
		{engine.PromptCertificate + " expired, self signed", "yes", true},
		{"What is your favorite color?", "", false},
		{"Enter your username", "", false},
	}
	for _, test := range tests {
		got, ok := b.Answer(test.prompt, 256)
		assert.Equal(t, test.ok, ok, test.prompt)
		assert.Equal(t, test.want, got, test.prompt)
	}
}

func TestAnswerTruncates(t *testing.T) {
	b := NewAuthBridge(Credentials{User: "émilie", Password: "abcdef"}, nil)

	got, ok := b.Answer(engine.PromptPassword, 4)
	assert.True(t, ok)
	assert.Equal(t, "abc", got)

	// "é" is two bytes and must not be split
	got, _ = b.Answer(engine.PromptUsername, 2)
	assert.Equal(t, "", got)
	got, _ = b.Answer(engine.PromptUsername, 3)
	assert.Equal(t, "é", got)

	got, _ = b.Answer(engine.PromptPassword, 0)
	assert.Equal(t, "abcdef", got)
}

func TestPrompt(t *testing.T) {
	b := NewAuthBridge(Credentials{User: "alice"}, nil)

	buf := make([]byte, 4)
	assert.Equal(t, 0, b.Prompt(engine.PromptUsername, buf, true, false))
	assert.Equal(t, []byte{'a', 'l', 'i', 0}, buf)

	assert.Equal(t, -1, b.Prompt("favorite color?", buf, true, false))

	b.SetCredentials(Credentials{User: "bob"})
	assert.Equal(t, "bob", b.Credentials().User)
}

func TestParseProxyType(t *testing.T) {
	p, ok := ParseProxyType("SOCKS5")
	assert.True(t, ok)
	assert.Equal(t, Socks5Proxy, p)
	assert.Equal(t, "Socks5Proxy", p.String())

	_, ok = ParseProxyType("carrier-pigeon")
	assert.False(t, ok)
}
