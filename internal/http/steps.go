package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/estimatehq/followup-engine/internal/engine"
	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
)

// sendNextStepHandler executes the estimate's current sequence step on
// behalf of the assigned user, provided the step is due.
func sendNextStepHandler(manual *engine.Manual) echo.HandlerFunc {
	return func(c echo.Context) error {
		estimateID, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "bad_request", "description": "invalid estimate id"})
		}

		res, err := manual.SendNext(c.Request().Context(), estimateID)
		if err != nil {
			return stepFailure(c, err)
		}
		return c.JSON(http.StatusOK, res)
	}
}

// executeStepHandler executes an explicit step index, due or not. The
// user pressing the button is the review.
func executeStepHandler(manual *engine.Manual) echo.HandlerFunc {
	return func(c echo.Context) error {
		estimateID, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "bad_request", "description": "invalid estimate id"})
		}
		stepIndex, err := strconv.Atoi(c.Param("index"))
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "bad_request", "description": "invalid step index"})
		}

		res, err := manual.ExecuteStep(c.Request().Context(), estimateID, stepIndex)
		if err != nil {
			return stepFailure(c, err)
		}
		return c.JSON(http.StatusOK, res)
	}
}

// stepFailure maps the manual engine's sentinel errors to statuses a
// client can act on.
func stepFailure(c echo.Context, err error) error {
	var status int
	var code string

	switch {
	case errors.Is(err, engine.ErrEstimateNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, engine.ErrNotEnrolled):
		status, code = http.StatusConflict, "not_enrolled"
	case errors.Is(err, engine.ErrEstimateResolved):
		status, code = http.StatusConflict, "estimate_resolved"
	case errors.Is(err, engine.ErrEstimateInactive):
		status, code = http.StatusConflict, "estimate_inactive"
	case errors.Is(err, engine.ErrSequencePaused):
		status, code = http.StatusConflict, "sequence_paused"
	case errors.Is(err, engine.ErrSequenceComplete):
		status, code = http.StatusConflict, "sequence_complete"
	case errors.Is(err, engine.ErrStepOutOfRange):
		status, code = http.StatusBadRequest, "step_out_of_range"
	case errors.Is(err, engine.ErrStepNotDue):
		status, code = http.StatusConflict, "step_not_due"
	case errors.Is(err, engine.ErrStepHandled):
		status, code = http.StatusConflict, "step_already_handled"
	case errors.Is(err, engine.ErrNoEmail):
		status, code = http.StatusUnprocessableEntity, "no_email"
	case errors.Is(err, engine.ErrNoPhone):
		status, code = http.StatusUnprocessableEntity, "no_phone"
	case errors.Is(err, engine.ErrBusy):
		status, code = http.StatusLocked, "busy"
	default:
		log.Errorf("manual step failed: %v", err)
		status, code = http.StatusInternalServerError, "internal"
	}

	return c.JSON(status, echo.Map{"error": code, "description": err.Error()})
}
