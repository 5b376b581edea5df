package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mkrasnov/autosend/internal/mailing"
	"github.com/mkrasnov/autosend/internal/store"
)

type fakeRepo struct {
	m        mailing.Mailing
	beginErr error

	recipients    []mailing.Recipient
	recipientsErr error

	logs      []mailing.Log
	attempts  []mailing.Attempt
	finishAt  []time.Time
	failLogAt int // 1-based index of the InsertLog call that fails; 0 = never
}

func (f *fakeRepo) BeginRun(ctx context.Context, id int64) (mailing.Mailing, error) {
	if f.beginErr != nil {
		return mailing.Mailing{}, f.beginErr
	}
	return f.m, nil
}

func (f *fakeRepo) RecipientsOf(ctx context.Context, id int64) ([]mailing.Recipient, error) {
	return f.recipients, f.recipientsErr
}

func (f *fakeRepo) InsertLog(ctx context.Context, l *mailing.Log) error {
	if f.failLogAt > 0 && len(f.logs)+1 == f.failLogAt {
		return errors.New("connection refused")
	}
	f.logs = append(f.logs, *l)
	return nil
}

func (f *fakeRepo) InsertAttempt(ctx context.Context, a *mailing.Attempt) error {
	f.attempts = append(f.attempts, *a)
	return nil
}

func (f *fakeRepo) FinishRun(ctx context.Context, id int64, now time.Time) error {
	f.finishAt = append(f.finishAt, now)
	return nil
}

type fakeGateway struct {
	calls  []string
	failTo map[string]error
}

func (g *fakeGateway) Send(ctx context.Context, to, subject, body string) error {
	g.calls = append(g.calls, to)
	if err, ok := g.failTo[to]; ok {
		return err
	}
	return nil
}

func recipients(emails ...string) []mailing.Recipient {
	out := make([]mailing.Recipient, 0, len(emails))
	for i, e := range emails {
		out = append(out, mailing.Recipient{ID: int64(i + 1), Email: e})
	}
	return out
}

func testMailing() mailing.Mailing {
	return mailing.Mailing{ID: 7, Status: mailing.StatusRunning, Subject: "hi", Body: "hello"}
}

func TestDispatch_AllSent(t *testing.T) {
	repo := &fakeRepo{m: testMailing(), recipients: recipients("a@x.com", "b@x.com", "c@x.com")}
	gw := &fakeGateway{}
	e := New(repo, gw, 0)

	res, err := e.Dispatch(context.Background(), 7, "admin@x.com", false)
	if err != nil {
		t.Fatal(err)
	}
	if res.Sent != 3 || res.Errored != 0 || res.DryRun != 0 || res.Total != 3 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Outcome != mailing.AttemptSuccess {
		t.Fatalf("want SUCCESS, got %s", res.Outcome)
	}
	if len(repo.logs) != 3 {
		t.Fatalf("want 3 log rows, got %d", len(repo.logs))
	}
	for _, l := range repo.logs {
		if l.Status != mailing.LogSent {
			t.Fatalf("want SENT rows, got %s", l.Status)
		}
		if l.TriggeredBy != "admin@x.com" {
			t.Fatalf("actor not captured: %q", l.TriggeredBy)
		}
	}
	if len(repo.attempts) != 1 || repo.attempts[0].Status != mailing.AttemptSuccess {
		t.Fatalf("want one SUCCESS attempt, got %+v", repo.attempts)
	}
	if len(repo.finishAt) != 1 {
		t.Fatal("last_sent_at not updated")
	}
}

func TestDispatch_PartialFailureIsolation(t *testing.T) {
	repo := &fakeRepo{m: testMailing(), recipients: recipients("a@x.com", "b@x.com", "c@x.com")}
	gw := &fakeGateway{failTo: map[string]error{"b@x.com": errors.New("smtp timeout")}}
	e := New(repo, gw, 0)

	res, err := e.Dispatch(context.Background(), 7, "admin@x.com", false)
	if err != nil {
		t.Fatal(err)
	}
	if res.Sent != 2 || res.Errored != 1 || res.Total != 3 {
		t.Fatalf("unexpected result: %+v", res)
	}
	// Policy: partial success is SUCCESS with a non-zero error count.
	if res.Outcome != mailing.AttemptSuccess {
		t.Fatalf("want SUCCESS, got %s", res.Outcome)
	}
	if len(repo.logs) != 3 {
		t.Fatalf("want exactly N=3 log rows, got %d", len(repo.logs))
	}
	var errored int
	for _, l := range repo.logs {
		if l.Status == mailing.LogError {
			errored++
			if l.Detail == "" {
				t.Fatal("error detail not captured")
			}
		}
	}
	if errored != 1 {
		t.Fatalf("want 1 ERROR row, got %d", errored)
	}
	if len(gw.calls) != 3 {
		t.Fatalf("one bad address must not block the rest: %d calls", len(gw.calls))
	}
}

func TestDispatch_AllFailedIsFail(t *testing.T) {
	repo := &fakeRepo{m: testMailing(), recipients: recipients("a@x.com")}
	gw := &fakeGateway{failTo: map[string]error{"a@x.com": errors.New("refused")}}
	e := New(repo, gw, 0)

	res, err := e.Dispatch(context.Background(), 7, "admin@x.com", false)
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != mailing.AttemptFail {
		t.Fatalf("zero real sends must be FAIL, got %s", res.Outcome)
	}
	if len(repo.finishAt) != 0 {
		t.Fatal("last_sent_at must not move when nothing was sent")
	}
}

func TestDispatch_DryRunPurity(t *testing.T) {
	repo := &fakeRepo{m: testMailing(), recipients: recipients("a@x.com", "b@x.com")}
	gw := &fakeGateway{}
	e := New(repo, gw, 0)

	res, err := e.Dispatch(context.Background(), 7, "admin@x.com", true)
	if err != nil {
		t.Fatal(err)
	}
	if len(gw.calls) != 0 {
		t.Fatalf("dry run must never touch the gateway, got %d calls", len(gw.calls))
	}
	if res.DryRun != 2 || res.Sent != 0 || res.Errored != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
	for _, l := range repo.logs {
		if l.Status != mailing.LogDryRun {
			t.Fatalf("want DRY_RUN rows only, got %s", l.Status)
		}
	}
	if res.Outcome != mailing.AttemptSuccess {
		t.Fatalf("dry run attempt is SUCCESS, got %s", res.Outcome)
	}
	if len(repo.finishAt) != 0 {
		t.Fatal("dry run must not move last_sent_at")
	}
}

func TestDispatch_DisabledRefusedNoWrites(t *testing.T) {
	repo := &fakeRepo{beginErr: store.ErrMailingDisabled}
	e := New(repo, &fakeGateway{}, 0)

	_, err := e.Dispatch(context.Background(), 7, "admin@x.com", false)
	if !errors.Is(err, store.ErrMailingDisabled) {
		t.Fatalf("want ErrMailingDisabled, got %v", err)
	}
	if len(repo.logs) != 0 || len(repo.attempts) != 0 {
		t.Fatalf("refusal must not write: logs=%d attempts=%d", len(repo.logs), len(repo.attempts))
	}
}

func TestDispatch_NotFoundNoWrites(t *testing.T) {
	repo := &fakeRepo{beginErr: store.ErrMailingNotFound}
	e := New(repo, &fakeGateway{}, 0)

	_, err := e.Dispatch(context.Background(), 999, "admin@x.com", false)
	if !errors.Is(err, store.ErrMailingNotFound) {
		t.Fatalf("want ErrMailingNotFound, got %v", err)
	}
	if len(repo.logs) != 0 || len(repo.attempts) != 0 {
		t.Fatal("unknown id must not write")
	}
}

func TestDispatch_RepositoryFailureMidLoop(t *testing.T) {
	repo := &fakeRepo{
		m:          testMailing(),
		recipients: recipients("a@x.com", "b@x.com", "c@x.com"),
		failLogAt:  2,
	}
	e := New(repo, &fakeGateway{}, 0)

	res, err := e.Dispatch(context.Background(), 7, "admin@x.com", false)
	if err == nil {
		t.Fatal("want repository error surfaced")
	}
	if len(repo.logs) != 1 {
		t.Fatalf("first row must stay committed, got %d rows", len(repo.logs))
	}
	if res.Outcome != mailing.AttemptFail {
		t.Fatalf("aborted run must be FAIL, got %s", res.Outcome)
	}
	if len(repo.attempts) != 1 || repo.attempts[0].Status != mailing.AttemptFail {
		t.Fatalf("want best-effort FAIL attempt, got %+v", repo.attempts)
	}
}
