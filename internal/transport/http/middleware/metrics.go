package middleware

import (
	"github.com/gin-gonic/gin"

	"docchat/internal/metrics"
)

// Metrics counts requests by matched route so path parameters do not explode label cardinality.
func Metrics(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		m.ObserveRequest(c.FullPath(), c.Writer.Status())
	}
}
