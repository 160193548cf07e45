package handler

import (
	"fmt"
	"strconv"
	"time"

	"storefront-service/internal/service"

	"github.com/labstack/echo/v4"
)

func idParam(c echo.Context, name string) (uint, error) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("%w: %s must be a positive integer", service.ErrValidation, name)
	}
	return uint(id), nil
}

func boolQuery(c echo.Context, name string) (*bool, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return nil, nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be true or false", service.ErrValidation, name)
	}
	return &value, nil
}

// dateQuery accepts RFC 3339 timestamps or plain dates. A plain date used as
// an upper bound covers the whole day.
func dateQuery(c echo.Context, name string, endOfDay bool) (*time.Time, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be a date (YYYY-MM-DD) or RFC 3339 time", service.ErrValidation, name)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}

func bindPaging(c echo.Context, page, pageSize *int) error {
	err := echo.QueryParamsBinder(c).
		Int("page", page).
		Int("pageSize", pageSize).
		BindError()
	if err != nil {
		return fmt.Errorf("%w: page and pageSize must be integers", service.ErrValidation)
	}
	return nil
}
