// Package handler implements the ground station REST API on gin.
package handler

import (
	"net/http"

	"github.com/edirooss/groundstation/pkg/jsonx"
	"github.com/gin-gonic/gin"
)

// bind strictly decodes the JSON request body into obj.
func bind[T any](r *http.Request, obj *T) error {
	return jsonx.ParseStrictJSONBody(r, obj)
}

// abort records err on the context and replies with {"message": err}.
func abort(c *gin.Context, status int, err error) {
	c.Error(err)
	c.JSON(status, gin.H{"message": err.Error()})
}
