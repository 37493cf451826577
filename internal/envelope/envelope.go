// Package envelope writes the JSON body every API route answers with:
// {code, message, data, payLoad}. The HTTP status always equals code.
package envelope

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type Body struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data"`
	PayLoad any    `json:"payLoad"`
}

func New(code int, message string, data any) Body {
	if data == nil {
		data = gin.H{}
	}
	return Body{Code: code, Message: message, Data: data, PayLoad: gin.H{}}
}

func Write(c *gin.Context, code int, message string, data any) {
	c.JSON(code, New(code, message, data))
}

// Abort writes the envelope and stops the handler chain.
func Abort(c *gin.Context, code int, message string, data any) {
	c.AbortWithStatusJSON(code, New(code, message, data))
}

func Success(c *gin.Context, message string, data any) {
	Write(c, http.StatusOK, message, data)
}

func BadRequest(c *gin.Context, message string) {
	if message == "" {
		message = "Bad request"
	}
	Write(c, http.StatusBadRequest, message, nil)
}

func NotFound(c *gin.Context, message string, data any) {
	if message == "" {
		message = "Not found"
	}
	Write(c, http.StatusNotFound, message, data)
}

func ServerError(c *gin.Context, message string, data any) {
	if message == "" {
		message = "Internal server error"
	}
	Write(c, http.StatusInternalServerError, message, data)
}
