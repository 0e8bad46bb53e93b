package csync

import (
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/openmined/treesync/internal/engine"
)

// answerTrustCertificate is given to every certificate prompt. Trust
// decisions are made before a run starts.
const answerTrustCertificate = "yes"

type ProxyType int

const (
	NoProxy ProxyType = iota
	DefaultProxy
	Socks5Proxy
	HttpProxy
	HttpCachingProxy
	FtpCachingProxy
)

var proxyTypeNames = map[ProxyType]string{
	NoProxy:          "NoProxy",
	DefaultProxy:     "DefaultProxy",
	Socks5Proxy:      "Socks5Proxy",
	HttpProxy:        "HttpProxy",
	HttpCachingProxy: "HttpCachingProxy",
	FtpCachingProxy:  "FtpCachingProxy",
}

func (p ProxyType) String() string {
	if name, ok := proxyTypeNames[p]; ok {
		return name
	}
	return "NoProxy"
}

// ParseProxyType accepts the engine names case-insensitively plus the short
// forms none, default, socks5, http.
func ParseProxyType(s string) (ProxyType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "noproxy":
		return NoProxy, true
	case "default", "defaultproxy":
		return DefaultProxy, true
	case "socks5", "socks5proxy":
		return Socks5Proxy, true
	case "http", "httpproxy":
		return HttpProxy, true
	case "httpcaching", "httpcachingproxy":
		return HttpCachingProxy, true
	case "ftpcaching", "ftpcachingproxy":
		return FtpCachingProxy, true
	}
	return NoProxy, false
}

type ProxySettings struct {
	Type     ProxyType
	Host     string
	Port     int
	User     string
	Password string
}

type Credentials struct {
	User     string
	Password string
	Proxy    ProxySettings
}

// LogValue keeps secrets out of logs.
func (c Credentials) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("user", c.User),
		slog.String("proxy", c.Proxy.Type.String()),
		slog.String("proxy_host", c.Proxy.Host),
		slog.Int("proxy_port", c.Proxy.Port),
	)
}

// AuthBridge answers engine prompts from a credentials snapshot.
type AuthBridge struct {
	mu     sync.RWMutex
	creds  Credentials
	logger *slog.Logger
}

func NewAuthBridge(creds Credentials, logger *slog.Logger) *AuthBridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthBridge{creds: creds, logger: logger}
}

func (b *AuthBridge) SetCredentials(creds Credentials) {
	b.mu.Lock()
	b.creds = creds
	b.mu.Unlock()
}

func (b *AuthBridge) Credentials() Credentials {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.creds
}

// Answer resolves a prompt. capacity includes the engine's terminator byte;
// capacity <= 0 means the answer is not truncated.
func (b *AuthBridge) Answer(prompt string, capacity int) (string, bool) {
	prompt = strings.TrimSpace(prompt)

	var value string
	switch {
	case prompt == engine.PromptUsername:
		b.mu.RLock()
		value = b.creds.User
		b.mu.RUnlock()
	case prompt == engine.PromptPassword:
		b.mu.RLock()
		value = b.creds.Password
		b.mu.RUnlock()
	case strings.HasPrefix(prompt, engine.PromptCertificate):
		value = answerTrustCertificate
	default:
		return "", false
	}

	if capacity > 0 {
		value = truncateUTF8(value, capacity-1)
	}
	return value, true
}

// Prompt implements engine.AuthPrompter.
func (b *AuthBridge) Prompt(prompt string, buf []byte, echo, verify bool) int {
	value, ok := b.Answer(prompt, len(buf))
	if !ok {
		b.logger.Warn("unrecognized engine prompt", "prompt", prompt)
		return -1
	}
	if len(buf) == 0 {
		return 0
	}
	n := copy(buf, value)
	buf[n] = 0
	return 0
}

func truncateUTF8(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
