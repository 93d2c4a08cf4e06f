package middleware

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/gig-escrow/internal/http/response"
	"github.com/ignatzorin/gig-escrow/internal/logger"
	"github.com/ignatzorin/gig-escrow/internal/pkg/apperror"
)

// ErrorHandler отдаёт ошибки, добавленные хэндлерами через c.Error,
// если ответ ещё не записан. Паника превращается в INTERNAL_ERROR.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Log.WithFields(logrus.Fields{
					"path":   c.Request.URL.Path,
					"method": c.Request.Method,
					"panic":  rec,
				}).Error("паника в обработчике запроса")
				if !c.Writer.Written() {
					response.Error(c, apperror.Wrap(fmt.Errorf("panic: %v", rec), apperror.ErrCodeInternal, "внутренняя ошибка сервера"))
				}
			}
		}()

		c.Next()

		if c.Writer.Written() || len(c.Errors) == 0 {
			return
		}
		response.Error(c, c.Errors.Last().Err)
	}
}
