package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

func success(c *gin.Context, data any) {
	successWithStatus(c, http.StatusOK, data)
}

func successWithStatus(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{
		"code": 0,
		"msg":  "success",
		"data": data,
	})
}

// fail writes the error envelope. Internal errors keep their detail in the log only.
func fail(c *gin.Context, logger *slog.Logger, err error) {
	ae := classify(err)
	status := ae.HTTPStatus()
	detail := ""
	if ae.err != nil {
		detail = ae.err.Error()
	}
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(c.Request.Context(), "request failed",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"error", err,
		)
		if ae.kind == kindInternal {
			detail = ""
		}
	}
	c.AbortWithStatusJSON(status, gin.H{
		"code":   status,
		"msg":    ae.msg,
		"detail": detail,
	})
}
