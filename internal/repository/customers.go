package repository

import (
	"context"
	"database/sql"

	"github.com/estimatehq/followup-engine/internal/model"
	"github.com/jmoiron/sqlx"
)

type CustomersRepository interface {
	GetByID(ctx context.Context, id int64) (*model.Customer, error)
	// UpsertByExternalID inserts or refreshes the customer matched by
	// the field-service platform's customer id, returning the local id.
	UpsertByExternalID(ctx context.Context, tx *sqlx.Tx, c model.Customer) (int64, error)
}

type CustomersRepositoryImpl struct {
	db *sqlx.DB
}

func NewCustomersRepository(db *sqlx.DB) *CustomersRepositoryImpl {
	return &CustomersRepositoryImpl{db: db}
}

var _ CustomersRepository = (*CustomersRepositoryImpl)(nil)

func (r *CustomersRepositoryImpl) withTx(ctx context.Context, tx *sqlx.Tx, fn func(*sqlx.Tx) error) error {
	if tx != nil {
		return fn(tx)
	}
	t, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = t.Rollback() }()
	if err := fn(t); err != nil {
		return err
	}
	return t.Commit()
}

func (r *CustomersRepositoryImpl) GetByID(ctx context.Context, id int64) (*model.Customer, error) {
	var c model.Customer
	err := r.db.GetContext(ctx, &c, `
		SELECT id, name, email, phone, external_customer_id, created_at, updated_at
		  FROM customers
		 WHERE id = ? LIMIT 1
	`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *CustomersRepositoryImpl) UpsertByExternalID(ctx context.Context, tx *sqlx.Tx, c model.Customer) (int64, error) {
	const q = `
		INSERT INTO customers (name, email, phone, external_customer_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, NOW(), NOW())
		ON DUPLICATE KEY UPDATE
		    name = VALUES(name),
		    email = COALESCE(VALUES(email), email),
		    phone = COALESCE(VALUES(phone), phone),
		    id = LAST_INSERT_ID(id),
		    updated_at = NOW()
	`
	var id int64
	err := r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, q, c.Name, c.Email, c.Phone, c.ExternalCustomerID)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}
