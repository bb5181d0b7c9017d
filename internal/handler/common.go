package handler

import (
	"errors"
	"strconv"

	"github.com/labstack/echo/v4"
)

// getUserID extracts the authenticated user's ID from the Echo context.
// The JWT middleware stores the subject claim under "user_id"; depending
// on the token source the value may arrive as several numeric types or a
// string, so a type switch normalises it to uint64.
func getUserID(c echo.Context) (uint64, error) {
	v := c.Get("user_id")
	switch t := v.(type) {
	case uint64:
		return t, nil
	case int:
		return uint64(t), nil
	case int64:
		return uint64(t), nil
	case float64:
		return uint64(t), nil
	case string:
		if n, err := strconv.ParseUint(t, 10, 64); err == nil {
			return n, nil
		}
	}
	return 0, errors.New("invalid user_id in context")
}

// pathID parses the numeric :id path parameter; zero is rejected.
func pathID(c echo.Context) (uint64, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, errors.New("invalid id")
	}
	return id, nil
}
