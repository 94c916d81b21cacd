package utils

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/srand/fgmachine/pkg/log"
)

// Header carrying the request id on inbound and outbound calls.
const HeaderRequestID = echo.HeaderXRequestID

func HttpLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		err := next(c)
		log.Debugf("%4s %s %v %s", c.Request().Method, c.Request().URL, c.Response().Status, c.Response().Header().Get(HeaderRequestID))
		return err
	}
}

// HttpRequestID tags every inbound request with a uuid unless the
// caller already supplied one.
func HttpRequestID() echo.MiddlewareFunc {
	return middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	})
}
