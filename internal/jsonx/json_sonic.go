//go:build sonic

// Package jsonx selects the JSON codec used for CLI output and the API
// client. Build with the sonic tag to switch to bytedance/sonic.
package jsonx

import (
	"github.com/bytedance/sonic"
)

var (
	Marshal       = sonic.Marshal
	Unmarshal     = sonic.Unmarshal
	MarshalIndent = sonic.MarshalIndent
)
