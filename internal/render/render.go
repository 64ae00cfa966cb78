package render

import "strings"

// Values carries everything a step template may reference.
type Values struct {
	CustomerName  string
	CustomerEmail string
	UserName      string
	ProposalLink  string
}

// Neutral fallbacks for missing fields, so a rendered message never
// carries an empty hole mid-sentence.
const (
	fallbackCustomerName  = "there"
	fallbackCustomerEmail = "your email"
	fallbackUserName      = "our team"
)

func orFallback(v, fb string) string {
	if strings.TrimSpace(v) == "" {
		return fb
	}
	return v
}

// Render substitutes named placeholders in a message template. Pure
// function, no side effects. Unknown placeholders are left untouched.
//
// Supported placeholders: {customer_name}, {customer_email},
// {user_name}, {proposal_link}.
func Render(template string, vals Values) string {
	r := strings.NewReplacer(
		"{customer_name}", orFallback(vals.CustomerName, fallbackCustomerName),
		"{customer_email}", orFallback(vals.CustomerEmail, fallbackCustomerEmail),
		"{user_name}", orFallback(vals.UserName, fallbackUserName),
		"{proposal_link}", vals.ProposalLink,
	)
	return r.Replace(template)
}
