package errs

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrForbidden = errors.New("permission denied")
	ErrConflict  = errors.New("relation already exists")
)

// ErrorResponse is the error envelope of the API.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// NewHTTPErrorHandler renders every error as {"detail": "..."} so clients
// get one envelope shape regardless of which layer failed.
func NewHTTPErrorHandler(log *zap.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		code := http.StatusInternalServerError
		detail := "internal server error"
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			detail = fmt.Sprintf("%v", he.Message)
		} else {
			log.Error("unhandled error", zap.Error(err))
		}
		if c.Request().Method == http.MethodHead {
			if err := c.NoContent(code); err != nil {
				log.Error("error handler", zap.Error(err))
			}
			return
		}
		if err := c.JSON(code, ErrorResponse{Detail: detail}); err != nil {
			log.Error("error handler", zap.Error(err))
		}
	}
}
