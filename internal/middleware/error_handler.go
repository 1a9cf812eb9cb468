package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// CustomErrorHandler renders every unhandled error as a JSON envelope.
// Internal details stay in the log; the payer only ever sees the sanitized
// message.
func CustomErrorHandler(err error, c echo.Context) {
	code := http.StatusInternalServerError
	message := "Something went wrong. Please try again later."

	if he, ok := err.(*echo.HTTPError); ok {
		code = he.Code
		if msg, ok := he.Message.(string); ok && msg != "" {
			message = msg
		} else {
			switch code {
			case http.StatusNotFound:
				message = "The resource you're looking for doesn't exist."
			case http.StatusBadRequest:
				message = "The request could not be processed."
			case http.StatusUnauthorized:
				message = "Authentication required."
			case http.StatusForbidden:
				message = "You don't have permission to access this resource."
			}
		}
	}

	c.Logger().Error(err)

	if c.Response().Committed {
		return
	}
	if jsonErr := c.JSON(code, map[string]interface{}{
		"success": false,
		"message": message,
	}); jsonErr != nil {
		c.Logger().Error(jsonErr)
	}
}
