// Package api holds the REST handlers that sit beside the realtime channel:
// appointments, templates, media and analytics.
package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"whatsapp-crm/internal/apperr"
)

// fail maps a domain error onto an HTTP response. Store failures come back
// as a generic message; credential and validation failures keep theirs.
func fail(c *gin.Context, err error) {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		message := appErr.Message
		if appErr.Kind == apperr.KindUnavailable || appErr.Kind == apperr.KindInternal {
			message = "request failed"
		}
		c.JSON(appErr.HTTPStatus(), gin.H{"error": message})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "request failed"})
}
