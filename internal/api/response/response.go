package response

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/3-stardust-7/JarNox/internal/api/middleware"
)

// SuccessResponse wraps diagnostic payloads; market data endpoints answer with bare bodies
type SuccessResponse struct {
	Data interface{} `json:"data"`
	Meta Meta        `json:"meta"`
}

// Meta represents metadata in response
type Meta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Success sends a successful response with data
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, SuccessResponse{
		Data: data,
		Meta: Meta{
			RequestID: middleware.GetRequestID(c),
			Timestamp: time.Now(),
		},
	})
}
