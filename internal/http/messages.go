package http

import (
	"net/http"
	"strconv"

	"github.com/estimatehq/followup-engine/internal/repository"
	"github.com/labstack/echo/v4"
)

// listMessagesHandler returns the outbound message history for an
// estimate, newest first, for the conversation view.
func listMessagesHandler(history repository.HistoryRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		estimateID, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "bad_request", "description": "invalid estimate id"})
		}

		limit, _ := strconv.Atoi(c.QueryParam("limit"))
		offset, _ := strconv.Atoi(c.QueryParam("offset"))

		rows, err := history.ListByEstimate(c.Request().Context(), estimateID, limit, offset)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal", "description": "message history unavailable"})
		}

		type message struct {
			ID                string `json:"id"`
			Channel           string `json:"channel"`
			Recipient         string `json:"recipient"`
			Body              string `json:"body"`
			ProviderMessageID string `json:"provider_message_id,omitempty"`
			SentAt            string `json:"sent_at"`
		}
		out := make([]message, 0, len(rows))
		for _, r := range rows {
			out = append(out, message{
				ID:                r.ID,
				Channel:           string(r.Channel),
				Recipient:         r.Recipient,
				Body:              r.Body,
				ProviderMessageID: r.ProviderMessageID,
				SentAt:            r.SentAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
			})
		}

		return c.JSON(http.StatusOK, echo.Map{"estimate_id": estimateID, "messages": out})
	}
}
