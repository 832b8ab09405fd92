package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-dispatch/core"
)

func badInputError(message string) error {
	return goerrors.New(message, goerrors.CategoryBadInput).
		WithCode(http.StatusBadRequest).
		WithTextCode(core.DispatchErrorBadInput)
}

// respondError maps any engine error to the canonical envelope and writes it
// with its HTTP status.
func (s *Server) respondError(c *gin.Context, err error) {
	mapped := core.MapError(err)
	if mapped == nil {
		c.Status(http.StatusOK)
		return
	}
	if s != nil && s.logger != nil && mapped.Code >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			"path", c.FullPath(),
			"text_code", mapped.TextCode,
			"error", mapped.Error(),
		)
	}

	body := gin.H{
		"error": gin.H{
			"message":   mapped.Message,
			"category":  string(mapped.Category),
			"text_code": mapped.TextCode,
		},
	}
	if validation := mapped.AllValidationErrors(); len(validation) > 0 {
		fields := make([]gin.H, 0, len(validation))
		for _, fieldErr := range validation {
			fields = append(fields, gin.H{
				"field":   fieldErr.Field,
				"message": fieldErr.Message,
			})
		}
		body["error"].(gin.H)["validation"] = fields
	}
	c.JSON(mapped.Code, body)
}
