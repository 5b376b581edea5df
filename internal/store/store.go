package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/mkrasnov/autosend/internal/mailing"
)

var (
	// ErrMailingNotFound is returned for unknown mailing ids.
	ErrMailingNotFound = errors.New("mailing not found")
	// ErrMailingDisabled is returned when a run is requested for a disabled mailing.
	ErrMailingDisabled = errors.New("mailing is disabled")
	// ErrMessageLocked is returned when editing a message already referenced
	// by a mailing that has started sending.
	ErrMessageLocked = errors.New("message is referenced by a started mailing")
)

type Store struct {
	DB *sqlx.DB
}

func New(db *sqlx.DB) *Store { return &Store{DB: db} }

func (s *Store) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.DB.BeginTxx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// ---- recipients ----

func (s *Store) InsertRecipient(ctx context.Context, r *mailing.Recipient) error {
	return s.DB.QueryRowxContext(ctx, `
		INSERT INTO recipients (owner_email, email, name, comment)
		VALUES ($1,$2,$3,$4)
		RETURNING id, created_at, updated_at
	`, r.OwnerEmail, r.Email, r.Name, r.Comment).Scan(&r.ID, &r.CreatedAt, &r.UpdatedAt)
}

func (s *Store) UpdateRecipient(ctx context.Context, r *mailing.Recipient) error {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE recipients
		   SET email=$1, name=$2, comment=$3, updated_at=NOW()
		 WHERE id=$4 AND owner_email=$5
	`, r.Email, r.Name, r.Comment, r.ID, r.OwnerEmail)
	if err != nil {
		return err
	}
	return requireRow(res, "recipient not found")
}

func (s *Store) DeleteRecipient(ctx context.Context, id int64, owner string) error {
	res, err := s.DB.ExecContext(ctx,
		`DELETE FROM recipients WHERE id=$1 AND owner_email=$2`, id, owner)
	if err != nil {
		return err
	}
	return requireRow(res, "recipient not found")
}

func (s *Store) ListRecipients(ctx context.Context, owner string, viewAll bool) ([]mailing.Recipient, error) {
	q := `SELECT id, owner_email, email, name, comment, created_at, updated_at
	        FROM recipients`
	args := []any{}
	if !viewAll {
		q += ` WHERE owner_email=$1`
		args = append(args, owner)
	}
	q += ` ORDER BY id`

	var out []mailing.Recipient
	if err := s.DB.SelectContext(ctx, &out, q, args...); err != nil {
		return nil, err
	}
	return out, nil
}

// ---- messages ----

func (s *Store) InsertMessage(ctx context.Context, m *mailing.Message) error {
	return s.DB.QueryRowxContext(ctx, `
		INSERT INTO messages (owner_email, subject, body)
		VALUES ($1,$2,$3)
		RETURNING id, created_at, updated_at
	`, m.OwnerEmail, m.Subject, m.Body).Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)
}

// UpdateMessage refuses once any referencing mailing has started sending,
// so delivery history keeps pointing at the text that actually went out.
func (s *Store) UpdateMessage(ctx context.Context, m *mailing.Message) error {
	var started bool
	err := s.DB.GetContext(ctx, &started, `
		SELECT EXISTS (
			SELECT 1 FROM mailings
			 WHERE message_id=$1 AND last_sent_at IS NOT NULL
		)
	`, m.ID)
	if err != nil {
		return err
	}
	if started {
		return ErrMessageLocked
	}

	res, err := s.DB.ExecContext(ctx, `
		UPDATE messages
		   SET subject=$1, body=$2, updated_at=NOW()
		 WHERE id=$3 AND owner_email=$4
	`, m.Subject, m.Body, m.ID, m.OwnerEmail)
	if err != nil {
		return err
	}
	return requireRow(res, "message not found")
}

func (s *Store) ListMessages(ctx context.Context, owner string, viewAll bool) ([]mailing.Message, error) {
	q := `SELECT id, owner_email, subject, body, created_at, updated_at FROM messages`
	args := []any{}
	if !viewAll {
		q += ` WHERE owner_email=$1`
		args = append(args, owner)
	}
	q += ` ORDER BY id`

	var out []mailing.Message
	if err := s.DB.SelectContext(ctx, &out, q, args...); err != nil {
		return nil, err
	}
	return out, nil
}

// ---- mailings ----

// InsertMailing creates the mailing and its recipient links in one transaction.
func (s *Store) InsertMailing(ctx context.Context, m *mailing.Mailing, recipientIDs []int64) error {
	return s.WithTx(ctx, func(tx *sqlx.Tx) error {
		err := tx.QueryRowxContext(ctx, `
			INSERT INTO mailings (owner_email, message_id, status, start_at, end_at)
			VALUES ($1,$2,$3,$4,$5)
			RETURNING id, created_at, updated_at
		`, m.OwnerEmail, m.MessageID, mailing.StatusCreated, m.StartAt, m.EndAt).
			Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)
		if err != nil {
			return err
		}
		m.Status = mailing.StatusCreated

		for _, rid := range recipientIDs {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO mailing_recipients (mailing_id, recipient_id)
				VALUES ($1,$2)
			`, m.ID, rid); err != nil {
				return err
			}
		}
		return nil
	})
}

const mailingColumns = `
	m.id, m.owner_email, m.message_id, m.status,
	m.start_at, m.end_at, m.last_sent_at, m.created_at, m.updated_at,
	msg.subject, msg.body`

func (s *Store) GetMailing(ctx context.Context, id int64) (mailing.Mailing, error) {
	var m mailing.Mailing
	err := s.DB.GetContext(ctx, &m, `
		SELECT `+mailingColumns+`
		FROM mailings m
		JOIN messages msg ON msg.id = m.message_id
		WHERE m.id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return mailing.Mailing{}, ErrMailingNotFound
	}
	if err != nil {
		return mailing.Mailing{}, err
	}
	return m, nil
}

func (s *Store) ListMailings(ctx context.Context, owner string, viewAll bool) ([]mailing.Mailing, error) {
	q := `
		SELECT ` + mailingColumns + `
		FROM mailings m
		JOIN messages msg ON msg.id = m.message_id`
	args := []any{}
	if !viewAll {
		q += ` WHERE m.owner_email=$1`
		args = append(args, owner)
	}
	q += ` ORDER BY m.start_at DESC, m.id DESC`

	var out []mailing.Mailing
	if err := s.DB.SelectContext(ctx, &out, q, args...); err != nil {
		return nil, err
	}
	return out, nil
}

// DueMailings returns mailings whose window is open at now, earliest start
// first. Mailings sent more recently than repeatCutoff are skipped so a
// minute-scale tick does not re-ping the same list every pass.
func (s *Store) DueMailings(ctx context.Context, now time.Time, repeatCutoff time.Time) ([]mailing.Mailing, error) {
	var out []mailing.Mailing
	err := s.DB.SelectContext(ctx, &out, `
		SELECT `+mailingColumns+`
		FROM mailings m
		JOIN messages msg ON msg.id = m.message_id
		WHERE m.status IN ($1, $2)
		  AND m.start_at <= $3
		  AND (m.end_at IS NULL OR m.end_at >= $3)
		  AND (m.last_sent_at IS NULL OR m.last_sent_at <= $4)
		ORDER BY m.start_at ASC, m.id ASC
	`, mailing.StatusCreated, mailing.StatusRunning, now, repeatCutoff)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) RecipientsOf(ctx context.Context, mailingID int64) ([]mailing.Recipient, error) {
	var out []mailing.Recipient
	err := s.DB.SelectContext(ctx, &out, `
		SELECT r.id, r.owner_email, r.email, r.name, r.comment, r.created_at, r.updated_at
		FROM recipients r
		JOIN mailing_recipients mr ON mr.recipient_id = r.id
		WHERE mr.mailing_id = $1
		ORDER BY r.id
	`, mailingID)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// BeginRun loads the mailing and atomically flips created->running so two
// concurrent dispatches of a fresh mailing race on the transition, not on
// the sends. Disabled mailings are refused before any write.
func (s *Store) BeginRun(ctx context.Context, id int64) (mailing.Mailing, error) {
	m, err := s.GetMailing(ctx, id)
	if err != nil {
		return mailing.Mailing{}, err
	}
	if m.Status == mailing.StatusDisabled {
		return mailing.Mailing{}, ErrMailingDisabled
	}
	if m.Status == mailing.StatusCreated {
		res, err := s.DB.ExecContext(ctx, `
			UPDATE mailings
			   SET status=$1, updated_at=NOW()
			 WHERE id=$2 AND status=$3
		`, mailing.StatusRunning, id, mailing.StatusCreated)
		if err != nil {
			return mailing.Mailing{}, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return mailing.Mailing{}, err
		}
		if n == 0 {
			// Lost the race; reload to see what it became.
			return s.BeginRun(ctx, id)
		}
		m.Status = mailing.StatusRunning
	}
	return m, nil
}

// FinishRun records the run completion: last_sent_at moves to now and the
// mailing transitions to completed once its window has closed.
func (s *Store) FinishRun(ctx context.Context, id int64, now time.Time) error {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE mailings
		   SET last_sent_at=$1,
		       status=CASE WHEN end_at IS NOT NULL AND end_at <= $1 THEN $2 ELSE status END,
		       updated_at=NOW()
		 WHERE id=$3 AND status <> $4
	`, now, mailing.StatusCompleted, id, mailing.StatusDisabled)
	if err != nil {
		return err
	}
	return requireRow(res, "mailing not found")
}

// DisableMailing is the manager's forced stop; disabled is terminal.
func (s *Store) DisableMailing(ctx context.Context, id int64) error {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE mailings SET status=$1, updated_at=NOW() WHERE id=$2
	`, mailing.StatusDisabled, id)
	if err != nil {
		return err
	}
	return requireRow(res, "mailing not found")
}

// ---- delivery log / attempts (append-only) ----

func (s *Store) InsertLog(ctx context.Context, l *mailing.Log) error {
	return s.DB.QueryRowxContext(ctx, `
		INSERT INTO mailing_logs (mailing_id, recipient_email, status, detail, triggered_by)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING id, created_at
	`, l.MailingID, l.Recipient, l.Status, l.Detail, l.TriggeredBy).Scan(&l.ID, &l.CreatedAt)
}

func (s *Store) InsertAttempt(ctx context.Context, a *mailing.Attempt) error {
	return s.DB.QueryRowxContext(ctx, `
		INSERT INTO mailing_attempts (mailing_id, status, server_response, triggered_by)
		VALUES ($1,$2,$3,$4)
		RETURNING id, attempted_at
	`, a.MailingID, a.Status, a.ServerResponse, a.TriggeredBy).Scan(&a.ID, &a.AttemptedAt)
}

// ---- stats ----

const statsSelect = `
	SELECT m.id AS mailing_id,
	       COUNT(DISTINCT l.id) FILTER (WHERE l.status='SENT')    AS sent,
	       COUNT(DISTINCT l.id) FILTER (WHERE l.status='ERROR')   AS errored,
	       COUNT(DISTINCT l.id) FILTER (WHERE l.status='DRY_RUN') AS dry_run,
	       COUNT(DISTINCT l.id)                                   AS total,
	       COUNT(DISTINCT a.id) FILTER (WHERE a.status='SUCCESS') AS attempt_success,
	       COUNT(DISTINCT a.id) FILTER (WHERE a.status='FAIL')    AS attempt_fail
	FROM mailings m
	LEFT JOIN mailing_logs l     ON l.mailing_id = m.id
	LEFT JOIN mailing_attempts a ON a.mailing_id = m.id`

func (s *Store) StatsFor(ctx context.Context, mailingID int64) (mailing.Stats, error) {
	var st mailing.Stats
	err := s.DB.GetContext(ctx, &st, statsSelect+`
		WHERE m.id = $1
		GROUP BY m.id
	`, mailingID)
	if errors.Is(err, sql.ErrNoRows) {
		return mailing.Stats{}, ErrMailingNotFound
	}
	if err != nil {
		return mailing.Stats{}, err
	}
	return st, nil
}

// StatsForOwner aggregates per-mailing stats for mailings created since the
// given time. With viewAll the owner filter is dropped (manager reports).
func (s *Store) StatsForOwner(ctx context.Context, owner string, since time.Time, viewAll bool) ([]mailing.Stats, error) {
	q := statsSelect + `
	WHERE m.created_at >= $1`
	args := []any{since}
	if !viewAll {
		q += ` AND m.owner_email = $2`
		args = append(args, owner)
	}
	q += `
	GROUP BY m.id
	ORDER BY m.id`

	var out []mailing.Stats
	if err := s.DB.SelectContext(ctx, &out, q, args...); err != nil {
		return nil, err
	}
	return out, nil
}

func requireRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s", what)
	}
	return nil
}
