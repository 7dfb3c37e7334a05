package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/glidemail/mailcore/interfaces"
	"github.com/glidemail/mailcore/internal/repository"
)

// respondError maps a service error onto an HTTP status. Remote error kinds
// take precedence over repository sentinels.
func respondError(c *gin.Context, err error) {
	if kind, ok := interfaces.RemoteErrorKind(err); ok {
		switch kind {
		case interfaces.ErrorAuth:
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "kind": string(kind)})
		case interfaces.ErrorNotFound:
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error(), "kind": string(kind)})
		case interfaces.ErrorTransient, interfaces.ErrorConflict:
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error(), "kind": string(kind)})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "kind": string(kind)})
		}
		return
	}

	switch {
	case errors.Is(err, repository.ErrAccountNotFound),
		errors.Is(err, repository.ErrFolderNotFound),
		errors.Is(err, repository.ErrItemNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, repository.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
