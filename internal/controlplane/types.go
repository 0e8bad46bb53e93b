package controlplane

import (
	"github.com/gin-gonic/gin"

	"github.com/openmined/treesync/internal/folder"
	"github.com/openmined/treesync/internal/version"
)

const (
	CodeOk              = "OK"
	ErrCodeBadRequest   = "ERR_BAD_REQUEST"
	ErrCodeUnauthorized = "ERR_UNAUTHORIZED"
	ErrCodeNotFound     = "ERR_NOT_FOUND"
	ErrCodeBusy         = "ERR_BUSY"
	ErrCodeNotReady     = "ERR_NOT_READY"
	ErrCodeUnknownError = "ERR_UNKNOWN_ERROR"
)

type Response struct {
	Code string `json:"code"`
}

type ErrorResponse struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

type StatusResponse struct {
	Version version.BuildInfo `json:"version"`
	Process *ProcessInfo      `json:"process,omitempty"`
	Folders []folder.Status   `json:"folders"`
}

type FileStatusResponse struct {
	Alias  string            `json:"alias"`
	Path   string            `json:"path"`
	Status folder.FileStatus `json:"status"`
}

type TerminateResponse struct {
	Code       string `json:"code"`
	Terminated bool   `json:"terminated"`
}

func abortWithError(c *gin.Context, status int, code string, err error) {
	c.Abort()
	c.Error(err)
	c.PureJSON(status, ErrorResponse{
		Code:  code,
		Error: err.Error(),
	})
}
