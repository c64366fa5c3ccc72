package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-assessment-api/internal/config"
	"github.com/noah-isme/gema-assessment-api/internal/service"
)

func TestHealthCheckReportsFailingProbe(t *testing.T) {
	app := fiber.New()
	app.Get("/health", HealthCheck(config.Config{AppName: "GEMA", AppEnv: "test"}, map[string]HealthProbe{
		"database": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	}))

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
}

func TestRespondErrorMapsSentinels(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{err: fmt.Errorf("load: %w", service.ErrSubmissionNotFound), status: fiber.StatusNotFound},
		{err: gorm.ErrRecordNotFound, status: fiber.StatusNotFound},
		{err: service.ErrNotEligible, status: fiber.StatusForbidden},
		{err: service.ErrAlreadyFinalized, status: fiber.StatusConflict},
		{err: service.ErrConflict, status: fiber.StatusConflict},
		{err: service.ErrScoreExceedsMax, status: fiber.StatusUnprocessableEntity},
		{err: fmt.Errorf("%w: cobol", service.ErrUnsupportedLanguage), status: fiber.StatusBadRequest},
		{err: service.ErrInvalidCanvas, status: fiber.StatusBadRequest},
		{err: fmt.Errorf("%w: dial tcp", service.ErrSandboxUnavailable), status: fiber.StatusServiceUnavailable},
		{err: errors.New("connection reset"), status: fiber.StatusInternalServerError},
	}

	for _, tc := range cases {
		app := fiber.New()
		failure := tc.err
		app.Get("/", func(c *fiber.Ctx) error {
			return respondError(c, zerolog.Nop(), failure)
		})
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
		require.NoError(t, err)
		require.Equal(t, tc.status, resp.StatusCode, failure.Error())
	}
}
