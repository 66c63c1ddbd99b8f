package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v5"
)

func writeBadRequest(c *echo.Context, err error) error {
	var inv invalidRequestError
	if errors.As(err, &inv) {
		return writeError(c, http.StatusBadRequest, "invalid_request_error", inv.Error(), inv.param, "")
	}
	return writeError(c, http.StatusBadRequest, "invalid_request_error", err.Error(), "", "")
}

func writeNotFound(c *echo.Context, msg string) error {
	return writeError(c, http.StatusNotFound, "not_found_error", msg, "", "")
}

func writeServerError(c *echo.Context, err error, code string) error {
	return writeError(c, http.StatusInternalServerError, "server_error", err.Error(), "", code)
}

func writeError(c *echo.Context, status int, errType, msg, param, code string) error {
	return c.JSON(status, map[string]any{
		"error": ResponseError{
			Message: msg,
			Type:    errType,
			Code:    code,
			Param:   param,
		},
	})
}

// decodeJSON reads one JSON value from at most limit bytes of r.
func decodeJSON[T any](r io.Reader, limit int64) (T, error) {
	var out T
	dec := json.NewDecoder(io.LimitReader(r, limit+1))
	if err := dec.Decode(&out); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return out, newInvalidRequest("", "request body is empty or truncated (limit %d bytes)", limit)
		}
		return out, newInvalidRequest("", "invalid JSON: %v", err)
	}
	return out, nil
}

func queryInt(c *echo.Context, name string, def int) (int, error) {
	q := c.QueryParam(name)
	if q == "" {
		return def, nil
	}
	v, err := strconv.Atoi(q)
	if err != nil {
		return 0, newInvalidRequest(name, "expected an integer, got %q", q)
	}
	return v, nil
}
