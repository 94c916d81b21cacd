package agent

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/srand/fgmachine/pkg/log"
	"github.com/srand/fgmachine/pkg/utils"
)

// Body of a refused capacity check or start request.
const noCapacityMessage = "Error: No capacity available"

type Error struct {
	Message string `json:"message"`
}

type KillResponse struct {
	Status string `json:"status"`
}

func newError(c echo.Context, err error) error {
	if errors.Is(err, utils.ErrCapacityExhausted) {
		log.Debug(c.Request().URL, err)
		return c.String(http.StatusNotImplemented, noCapacityMessage)
	}

	if errors.Is(err, utils.ErrNotFound) {
		return c.JSON(http.StatusNotFound, &Error{Message: err.Error()})
	}

	if errors.Is(err, utils.ErrBadRequest) {
		return c.JSON(http.StatusBadRequest, &Error{Message: err.Error()})
	}

	if errors.Is(err, utils.ErrDuplicate) {
		return c.JSON(http.StatusConflict, &Error{Message: err.Error()})
	}

	log.Error(c.Request().URL, err)
	return c.JSON(http.StatusInternalServerError, &Error{Message: err.Error()})
}

// decodeStartRequest parses the body of a start request. Numbers keep
// their textual form so that they are passed to the experiment as sent.
func decodeStartRequest(body []byte) (string, map[string]any, error) {
	hyperparameters := map[string]any{}

	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()
	if err := decoder.Decode(&hyperparameters); err != nil {
		return "", nil, fmt.Errorf("%w: %v", utils.ErrBadRequest, err)
	}
	if decoder.More() {
		return "", nil, fmt.Errorf("%w: trailing data after request body", utils.ErrBadRequest)
	}

	// FGLab sends _id, plain id is accepted from other clients.
	id, ok := hyperparameters["_id"].(string)
	if _, present := hyperparameters["_id"]; !present {
		id, ok = hyperparameters["id"].(string)
	}
	if !ok || id == "" {
		return "", nil, fmt.Errorf("%w: missing experiment id (_id)", utils.ErrBadRequest)
	}

	return id, hyperparameters, nil
}

// NewHttpHandler serves the coordinator-facing API of the agent.
func NewHttpHandler(agent *Agent) http.Handler {
	r := echo.New()
	r.HideBanner = true
	r.Use(utils.HttpRequestID())
	r.Use(utils.HttpLogger)
	r.Use(middleware.BodyLimit("50M"))

	r.GET("/projects/:id/capacity", func(c echo.Context) error {
		info, err := agent.Capacity(c.Param("id"))
		if err != nil {
			return newError(c, err)
		}
		return c.JSON(http.StatusOK, info)
	})

	r.POST("/projects/:id", func(c echo.Context) error {
		body, err := io.ReadAll(c.Request().Body)
		if err != nil {
			return newError(c, fmt.Errorf("%w: %v", utils.ErrBadRequest, err))
		}

		id, hyperparameters, err := decodeStartRequest(body)
		if err != nil {
			return newError(c, err)
		}

		if err := agent.Start(c.Param("id"), id, hyperparameters); err != nil {
			return newError(c, err)
		}

		return c.JSONBlob(http.StatusOK, body)
	})

	r.POST("/experiments/:id/kill", func(c echo.Context) error {
		agent.Kill(c.Param("id"))
		c.Response().Header().Set(echo.HeaderAccessControlAllowOrigin, "*")
		return c.JSON(http.StatusOK, &KillResponse{Status: "killed"})
	})

	r.GET("/experiments/:id", func(c echo.Context) error {
		id := c.Param("id")

		if state, ok := agent.State(id); ok {
			return c.JSON(http.StatusOK, map[string]any{
				"id":    id,
				"state": state,
			})
		}

		record, err := agent.Experiment(c.Request().Context(), id)
		if err != nil {
			return newError(c, err)
		}
		return c.JSON(http.StatusOK, record)
	})

	r.GET("/status", func(c echo.Context) error {
		return c.JSON(http.StatusOK, agent.Status())
	})

	r.GET("/metrics", echo.WrapHandler(agent.metrics.Handler()))

	return r
}
