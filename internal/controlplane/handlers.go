package controlplane

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/openmined/treesync/internal/folder"
	"github.com/openmined/treesync/internal/version"
)

type handler struct {
	folders Folders
}

func (h *handler) index(c *gin.Context) {
	c.JSON(http.StatusOK, version.Info())
}

func (h *handler) status(c *gin.Context) {
	proc, err := currentProcess(c.Request.Context())
	if err != nil {
		slog.Debug("control plane process stats", "error", err)
	}

	c.JSON(http.StatusOK, StatusResponse{
		Version: version.Info(),
		Process: proc,
		Folders: h.statuses(),
	})
}

func (h *handler) list(c *gin.Context) {
	c.JSON(http.StatusOK, h.statuses())
}

func (h *handler) get(c *gin.Context) {
	f, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, f.Status())
}

func (h *handler) fileStatus(c *gin.Context) {
	path := c.Query("path")
	if path == "" {
		abortWithError(c, http.StatusBadRequest, ErrCodeBadRequest, errors.New("path is required"))
		return
	}

	f, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, FileStatusResponse{
		Alias:  f.Alias(),
		Path:   path,
		Status: f.FileStatus(path),
	})
}

func (h *handler) sync(c *gin.Context) {
	f, ok := h.lookup(c)
	if !ok {
		return
	}

	switch err := f.SyncNow(); {
	case err == nil:
		c.JSON(http.StatusAccepted, Response{Code: CodeOk})
	case errors.Is(err, folder.ErrFolderBusy):
		abortWithError(c, http.StatusConflict, ErrCodeBusy, err)
	case errors.Is(err, folder.ErrNotStarted):
		abortWithError(c, http.StatusServiceUnavailable, ErrCodeNotReady, err)
	default:
		abortWithError(c, http.StatusInternalServerError, ErrCodeUnknownError, err)
	}
}

func (h *handler) terminate(c *gin.Context) {
	f, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, TerminateResponse{Code: CodeOk, Terminated: f.Terminate()})
}

func (h *handler) lookup(c *gin.Context) (Folder, bool) {
	f, err := h.folders.Folder(c.Param("alias"))
	if errors.Is(err, folder.ErrFolderNotFound) {
		abortWithError(c, http.StatusNotFound, ErrCodeNotFound, err)
		return nil, false
	} else if err != nil {
		abortWithError(c, http.StatusInternalServerError, ErrCodeUnknownError, err)
		return nil, false
	}
	return f, true
}

func (h *handler) statuses() []folder.Status {
	list := h.folders.Folders()
	statuses := make([]folder.Status, 0, len(list))
	for _, f := range list {
		statuses = append(statuses, f.Status())
	}
	return statuses
}
