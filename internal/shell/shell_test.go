package shell

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuote(t *testing.T) {
	cases := []struct {
		in  string
		exp string
	}{
		{"api", "'api'"},
		{"with space", "'with space'"},
		{"it's", `'it'\''s'`},
		{"", "''"},
		{"$(reboot)", "'$(reboot)'"},
		{"a; rm -rf /", "'a; rm -rf /'"},
	}
	for _, c := range cases {
		t.Run(c.in, func(t *testing.T) {
			assert.Equal(t, c.exp, Quote(c.in))
		})
	}
}

func TestResolve(t *testing.T) {
	assert.Equal(t, "/bin/bash", Resolve("/bin/bash"))

	t.Setenv("SHELL", "/usr/bin/zsh")
	assert.Equal(t, "/usr/bin/zsh", Resolve(""))

	t.Setenv("SHELL", "")
	assert.Equal(t, "/bin/sh", Resolve(""))
}

func TestWord(t *testing.T) {
	cases := []struct {
		in  string
		exp string
	}{
		{"api-server", "api-server"},
		{"/usr/local/bin/pm2", "/usr/local/bin/pm2"},
		{"worker@2", "worker@2"},
		{"my app", "'my app'"},
		{"x;reboot", "'x;reboot'"},
		{"", "''"},
	}
	for _, c := range cases {
		t.Run(c.in, func(t *testing.T) {
			assert.Equal(t, c.exp, Word(c.in))
		})
	}
}
