//go:build !sonic

// Package jsonx selects the JSON codec used for CLI output and the API
// client. Build with the sonic tag to switch to bytedance/sonic.
package jsonx

import (
	"github.com/goccy/go-json"
)

var (
	Marshal       = json.Marshal
	Unmarshal     = json.Unmarshal
	MarshalIndent = json.MarshalIndent
)
