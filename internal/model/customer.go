package model

import "time"

// Customer has zero-or-one matching record on the field-service
// platform (ExternalCustomerID).
type Customer struct {
	ID                 int64     `db:"id"`
	Name               string    `db:"name"`
	Email              *string   `db:"email"`
	Phone              *string   `db:"phone"`
	ExternalCustomerID *string   `db:"external_customer_id"`
	CreatedAt          time.Time `db:"created_at"`
	UpdatedAt          time.Time `db:"updated_at"`
}
