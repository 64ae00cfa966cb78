package engine

import (
	"fmt"
	"time"

	"github.com/estimatehq/followup-engine/internal/model"
	"github.com/estimatehq/followup-engine/internal/render"
	"github.com/estimatehq/followup-engine/internal/repository"
)

// Clock lets sweeps run against an injected "now" in tests.
type Clock func() time.Time

// FollowUpSummary is the followups job result: scheduler phase counts
// plus executor phase counts.
type FollowUpSummary struct {
	Scheduled int `json:"scheduled"`
	Sent      int `json:"sent"`
	Skipped   int `json:"skipped"`
	Errors    int `json:"errors"`
}

// DeclineSummary is the auto-decline job result.
type DeclineSummary struct {
	Declined int `json:"declined"`
	Warnings int `json:"warnings"`
	Errors   int `json:"errors"`
}

// ReconcileSummary is the reconciliation job result.
type ReconcileSummary struct {
	NewEstimates int `json:"new_estimates"`
	Updated      int `json:"updated"`
	Won          int `json:"won"`
	Lost         int `json:"lost"`
	PagesFetched int `json:"pages_fetched"`
	Errors       int `json:"errors"`
}

func renderValues(v repository.ScheduledEstimateView) render.Values {
	vals := render.Values{
		CustomerName: v.CustomerName,
		ProposalLink: v.ProposalURL,
	}
	if v.CustomerEmail != nil {
		vals.CustomerEmail = *v.CustomerEmail
	}
	if v.AssignedUserName != nil {
		vals.UserName = *v.AssignedUserName
	}
	return vals
}

// contactFor resolves the recipient address for a channel. ok is false
// when the customer lacks the required contact channel.
func contactFor(ch model.Channel, email, phone *string) (string, bool) {
	switch ch {
	case model.ChannelEmail:
		if email != nil && *email != "" {
			return *email, true
		}
	case model.ChannelSMS:
		if phone != nil && *phone != "" {
			return *phone, true
		}
	}
	return "", false
}

// stepDue reports whether the step at the estimate's current index is
// due at now, per the sequence's day offsets from sent_date.
func stepDue(sentDate time.Time, step model.SequenceStep, now time.Time) bool {
	due := sentDate.AddDate(0, 0, step.DayOffset)
	return !due.After(now)
}

func dayStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func estimateRef(number string, id int64) string {
	if number != "" {
		return number
	}
	return fmt.Sprintf("#%d", id)
}
