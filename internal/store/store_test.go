package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/mkrasnov/autosend/internal/mailing"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return New(sqlx.NewDb(db, "sqlmock")), mock
}

func mailingRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "owner_email", "message_id", "status",
		"start_at", "end_at", "last_sent_at", "created_at", "updated_at",
		"subject", "body",
	})
}

func TestDueMailings_QueryAndOrder(t *testing.T) {
	s, mock := newMock(t)
	now := time.Date(2025, 10, 2, 12, 0, 0, 0, time.UTC)
	cutoff := now.Add(-5 * time.Minute)

	mock.ExpectQuery(`WHERE m\.status IN \(\$1, \$2\)`).
		WithArgs(string(mailing.StatusCreated), string(mailing.StatusRunning), now, cutoff).
		WillReturnRows(mailingRows().
			AddRow(1, "a@x.com", 10, "created", now.Add(-time.Hour), now.Add(time.Hour), nil, now, now, "s1", "b1").
			AddRow(2, "a@x.com", 11, "running", now.Add(-30*time.Minute), nil, nil, now, now, "s2", "b2"))

	got, err := s.DueMailings(context.Background(), now, cutoff)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("want 2 due mailings, got %d", len(got))
	}
	if got[0].ID != 1 || got[1].ID != 2 {
		t.Fatalf("unexpected order: %d, %d", got[0].ID, got[1].ID)
	}
	if got[0].Subject != "s1" || got[0].Body != "b1" {
		t.Fatalf("message not joined: %+v", got[0])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestGetMailing_NotFound(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectQuery(`FROM mailings m`).
		WithArgs(int64(999)).
		WillReturnRows(mailingRows())

	_, err := s.GetMailing(context.Background(), 999)
	if !errors.Is(err, ErrMailingNotFound) {
		t.Fatalf("want ErrMailingNotFound, got %v", err)
	}
}

func TestBeginRun_DisabledRefused(t *testing.T) {
	s, mock := newMock(t)
	now := time.Now()

	mock.ExpectQuery(`FROM mailings m`).
		WithArgs(int64(7)).
		WillReturnRows(mailingRows().
			AddRow(7, "a@x.com", 10, "disabled", now, nil, nil, now, now, "s", "b"))

	_, err := s.BeginRun(context.Background(), 7)
	if !errors.Is(err, ErrMailingDisabled) {
		t.Fatalf("want ErrMailingDisabled, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestBeginRun_FlipsCreatedToRunning(t *testing.T) {
	s, mock := newMock(t)
	now := time.Now()

	mock.ExpectQuery(`FROM mailings m`).
		WithArgs(int64(7)).
		WillReturnRows(mailingRows().
			AddRow(7, "a@x.com", 10, "created", now, nil, nil, now, now, "s", "b"))
	mock.ExpectExec(`UPDATE mailings`).
		WithArgs(string(mailing.StatusRunning), int64(7), string(mailing.StatusCreated)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	m, err := s.BeginRun(context.Background(), 7)
	if err != nil {
		t.Fatal(err)
	}
	if m.Status != mailing.StatusRunning {
		t.Fatalf("want running, got %s", m.Status)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestBeginRun_LostRaceReloads(t *testing.T) {
	s, mock := newMock(t)
	now := time.Now()

	mock.ExpectQuery(`FROM mailings m`).
		WithArgs(int64(7)).
		WillReturnRows(mailingRows().
			AddRow(7, "a@x.com", 10, "created", now, nil, nil, now, now, "s", "b"))
	mock.ExpectExec(`UPDATE mailings`).
		WithArgs(string(mailing.StatusRunning), int64(7), string(mailing.StatusCreated)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	// Reload sees the winner's transition already applied.
	mock.ExpectQuery(`FROM mailings m`).
		WithArgs(int64(7)).
		WillReturnRows(mailingRows().
			AddRow(7, "a@x.com", 10, "running", now, nil, nil, now, now, "s", "b"))

	m, err := s.BeginRun(context.Background(), 7)
	if err != nil {
		t.Fatal(err)
	}
	if m.Status != mailing.StatusRunning {
		t.Fatalf("want running after reload, got %s", m.Status)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestInsertLog_AppendOnly(t *testing.T) {
	s, mock := newMock(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta(`
		INSERT INTO mailing_logs (mailing_id, recipient_email, status, detail, triggered_by)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING id, created_at
	`)).
		WithArgs(int64(7), "u@example.com", mailing.LogSent, "delivered", "admin@x.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(55, now))

	l := &mailing.Log{
		MailingID:   7,
		Recipient:   "u@example.com",
		Status:      mailing.LogSent,
		Detail:      "delivered",
		TriggeredBy: "admin@x.com",
	}
	if err := s.InsertLog(context.Background(), l); err != nil {
		t.Fatal(err)
	}
	if l.ID != 55 {
		t.Fatalf("want id=55, got %d", l.ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestFinishRun(t *testing.T) {
	s, mock := newMock(t)
	now := time.Now()

	mock.ExpectExec(`UPDATE mailings`).
		WithArgs(now, string(mailing.StatusCompleted), int64(7), string(mailing.StatusDisabled)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.FinishRun(context.Background(), 7, now); err != nil {
		t.Fatal(err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestUpdateMessage_LockedAfterSend(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs(int64(10)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	err := s.UpdateMessage(context.Background(), &mailing.Message{ID: 10, OwnerEmail: "a@x.com"})
	if !errors.Is(err, ErrMessageLocked) {
		t.Fatalf("want ErrMessageLocked, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestStatsFor(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectQuery(`FROM mailings m`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{
			"mailing_id", "sent", "errored", "dry_run", "total", "attempt_success", "attempt_fail",
		}).AddRow(7, 2, 1, 0, 3, 1, 0))

	st, err := s.StatsFor(context.Background(), 7)
	if err != nil {
		t.Fatal(err)
	}
	if st.Sent != 2 || st.Errored != 1 || st.Total != 3 {
		t.Fatalf("unexpected stats: %+v", st)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}
