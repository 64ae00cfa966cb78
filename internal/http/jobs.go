package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/estimatehq/followup-engine/internal/engine"
	"github.com/estimatehq/followup-engine/internal/fieldservice"
	"github.com/labstack/echo/v4"
)

type followUpsJobResponse struct {
	Scheduler engine.FollowUpSummary `json:"scheduler"`
	Executor  engine.FollowUpSummary `json:"executor"`
	RanAt     time.Time              `json:"ran_at"`
}

type declineJobResponse struct {
	engine.DeclineSummary
	RanAt time.Time `json:"ran_at"`
}

type reconcileJobResponse struct {
	engine.ReconcileSummary
	RanAt time.Time `json:"ran_at"`
}

// followUpsJobHandler runs the two phases of the follow-up job in
// order: materialize due steps, then dispatch events whose review
// window elapsed.
func followUpsJobHandler(scheduler *engine.Scheduler, executor *engine.Executor) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		schedSum, err := scheduler.Run(ctx)
		if err != nil {
			return jobFailure(c, err)
		}
		execSum, err := executor.Run(ctx)
		if err != nil {
			return jobFailure(c, err)
		}

		return c.JSON(http.StatusOK, followUpsJobResponse{
			Scheduler: schedSum,
			Executor:  execSum,
			RanAt:     time.Now().UTC(),
		})
	}
}

func autoDeclineJobHandler(job *engine.AutoDecline) echo.HandlerFunc {
	return func(c echo.Context) error {
		sum, err := job.Run(c.Request().Context())
		if err != nil {
			return jobFailure(c, err)
		}
		return c.JSON(http.StatusOK, declineJobResponse{DeclineSummary: sum, RanAt: time.Now().UTC()})
	}
}

func reconcileJobHandler(job *engine.Reconciler) echo.HandlerFunc {
	return func(c echo.Context) error {
		sum, err := job.Run(c.Request().Context())
		if err != nil {
			return jobFailure(c, err)
		}
		return c.JSON(http.StatusOK, reconcileJobResponse{ReconcileSummary: sum, RanAt: time.Now().UTC()})
	}
}

func jobFailure(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	if errors.Is(err, fieldservice.ErrNotConfigured) {
		// misconfiguration, not a transient failure
		return c.JSON(status, echo.Map{"error": "not_configured", "description": err.Error()})
	}
	return c.JSON(status, echo.Map{"error": "job_failed", "description": err.Error()})
}
