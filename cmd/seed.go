package cmd

import (
	"fmt"
	"log"
	"time"

	"github.com/estimatehq/followup-engine/internal/config"
	"github.com/estimatehq/followup-engine/internal/db"
	"github.com/estimatehq/followup-engine/internal/model"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with demo users, customers, a default sequence and estimates",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		sqlDB, err := db.NewMySQLConnection(cfg.MySQL.DSN, db.MySQLOpts{
			MaxOpenConns:    cfg.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.MySQL.MaxIdleConns,
			ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.MySQL.ConnMaxIdleTime,
			PingTimeout:     cfg.MySQL.PingTimeout,
		})
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer sqlDB.Close()

		log.Println(">> Seeding demo data...")

		if err := seedUsers(sqlDB); err != nil {
			return err
		}
		if err := seedCustomers(sqlDB); err != nil {
			return err
		}
		if err := seedDefaultSequence(sqlDB); err != nil {
			return err
		}
		if err := seedEstimates(sqlDB); err != nil {
			return err
		}

		log.Println(">> Seed completed ✅")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

// seedUsers inserts 3 deterministic demo users (idempotent on email).
func seedUsers(dbx *sqlx.DB) error {
	users := []model.User{
		{Name: "Dana Reeve", Email: "dana@demo.local", Status: "active"},
		{Name: "Sam Okafor", Email: "sam@demo.local", Status: "active"},
		{Name: "Retired Rep", Email: "retired@demo.local", Status: "inactive"},
	}

	const q = `
INSERT INTO users (name, email, status, created_at, updated_at)
VALUES (?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
    name       = VALUES(name),
    status     = VALUES(status),
    updated_at = VALUES(updated_at)
`
	now := time.Now()
	for _, u := range users {
		if _, err := dbx.Exec(q, u.Name, u.Email, u.Status, now, now); err != nil {
			return fmt.Errorf("insert user %q: %w", u.Name, err)
		}
	}
	return nil
}

// seedCustomers inserts demo customers (idempotent on external_customer_id).
func seedCustomers(dbx *sqlx.DB) error {
	customers := []model.Customer{
		{Name: "Acme Roofing", Email: strptr("ops@acme-roofing.test"), Phone: strptr("+15550100001"), ExternalCustomerID: strptr("fs-cust-1001")},
		{Name: "Maple HVAC", Email: strptr("billing@maplehvac.test"), Phone: strptr("+15550100002"), ExternalCustomerID: strptr("fs-cust-1002")},
		{Name: "No Contact Co", Email: nil, Phone: nil, ExternalCustomerID: strptr("fs-cust-1003")},
	}

	const q = `
INSERT INTO customers (name, email, phone, external_customer_id, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
    name       = VALUES(name),
    email      = VALUES(email),
    phone      = VALUES(phone),
    updated_at = VALUES(updated_at)
`
	tx, err := dbx.Beginx()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now()
	for _, c := range customers {
		if _, err := tx.Exec(q, c.Name, c.Email, c.Phone, c.ExternalCustomerID, now, now); err != nil {
			return fmt.Errorf("insert customer %q: %w", c.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit customers: %w", err)
	}
	return nil
}

// seedDefaultSequence inserts sequence id=1 with the standard cadence:
// day-2 sms, day-5 email, day-9 call task.
func seedDefaultSequence(dbx *sqlx.DB) error {
	tx, err := dbx.Beginx()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now()
	const seqQ = `
INSERT INTO follow_up_sequences (id, name, is_active, created_at, updated_at)
VALUES (1, 'Standard Estimate Follow-Up', 1, ?, ?)
ON DUPLICATE KEY UPDATE
    name       = VALUES(name),
    is_active  = VALUES(is_active),
    updated_at = VALUES(updated_at)
`
	if _, err := tx.Exec(seqQ, now, now); err != nil {
		return fmt.Errorf("insert sequence: %w", err)
	}

	steps := []model.SequenceStep{
		{SequenceID: 1, Position: 0, DayOffset: 2, Channel: model.ChannelSMS,
			Template: "Hi {customer_name}, just checking in on the estimate we sent. You can review it here: {proposal_link}"},
		{SequenceID: 1, Position: 1, DayOffset: 5, Channel: model.ChannelEmail,
			Template: "Hi {customer_name}, following up on your estimate. Any questions for {user_name}? {proposal_link}"},
		{SequenceID: 1, Position: 2, DayOffset: 9, Channel: model.ChannelCall, IsCallTask: true,
			Template: "Call {customer_name} about their open estimate."},
	}

	const stepQ = `
INSERT INTO sequence_steps (sequence_id, position, day_offset, channel, template, is_call_task)
VALUES (?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
    day_offset   = VALUES(day_offset),
    channel      = VALUES(channel),
    template     = VALUES(template),
    is_call_task = VALUES(is_call_task)
`
	for _, s := range steps {
		if _, err := tx.Exec(stepQ, s.SequenceID, s.Position, s.DayOffset, s.Channel, s.Template, s.IsCallTask); err != nil {
			return fmt.Errorf("insert step %d: %w", s.Position, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit sequence: %w", err)
	}
	return nil
}

// seedEstimates inserts demo estimates enrolled in the default
// sequence, each with pending options (idempotent on number).
func seedEstimates(dbx *sqlx.DB) error {
	tx, err := dbx.Beginx()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now()
	sent := now.AddDate(0, 0, -3)
	decline := now.AddDate(0, 0, 27)

	const estQ = `
INSERT INTO estimates
    (number, external_estimate_id, customer_id, assigned_user_id, status,
     sequence_id, sequence_step_index, sent_date, auto_decline_date,
     proposal_url, total_amount, created_at, updated_at)
VALUES
    (?, ?,
     (SELECT id FROM customers WHERE external_customer_id = ?),
     (SELECT id FROM users WHERE email = ?),
     'active', 1, 0, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
    updated_at = VALUES(updated_at)
`
	rows := []struct {
		number, externalID, customerExt, userEmail, proposalURL string
		amount                                                  int64
	}{
		{"EST-2026-0001", "fs-est-5001", "fs-cust-1001", "dana@demo.local", "https://portal.demo.local/p/EST-2026-0001", 480000},
		{"EST-2026-0002", "fs-est-5002", "fs-cust-1002", "sam@demo.local", "https://portal.demo.local/p/EST-2026-0002", 129900},
	}
	for _, r := range rows {
		if _, err := tx.Exec(estQ, r.number, r.externalID, r.customerExt, r.userEmail,
			sent, decline, r.proposalURL, r.amount, now, now); err != nil {
			return fmt.Errorf("insert estimate %q: %w", r.number, err)
		}
	}

	const optQ = `
INSERT INTO estimate_options (estimate_id, external_option_id, status, amount, created_at, updated_at)
SELECT e.id, ?, 'pending', ?, ?, ?
  FROM estimates e
 WHERE e.number = ?
   AND NOT EXISTS (SELECT 1 FROM estimate_options o WHERE o.external_option_id = ?)
`
	options := []struct {
		externalID, estimateNumber string
		amount                     int64
	}{
		{"fs-opt-9001", "EST-2026-0001", 480000},
		{"fs-opt-9002", "EST-2026-0001", 520000},
		{"fs-opt-9003", "EST-2026-0002", 129900},
	}
	for _, o := range options {
		if _, err := tx.Exec(optQ, o.externalID, o.amount, now, now, o.estimateNumber, o.externalID); err != nil {
			return fmt.Errorf("insert option %q: %w", o.externalID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit estimates: %w", err)
	}
	return nil
}

func strptr(s string) *string { return &s }
