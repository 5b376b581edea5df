package report

import (
	"context"
	"testing"
	"time"

	"github.com/mkrasnov/autosend/internal/mailing"
)

type fakeReader struct {
	lastOwner   string
	lastSince   time.Time
	lastViewAll bool
}

func (f *fakeReader) StatsFor(ctx context.Context, id int64) (mailing.Stats, error) {
	return mailing.Stats{MailingID: id, Sent: 3, Errored: 1, Total: 4}, nil
}

func (f *fakeReader) StatsForOwner(ctx context.Context, owner string, since time.Time, viewAll bool) ([]mailing.Stats, error) {
	f.lastOwner, f.lastSince, f.lastViewAll = owner, since, viewAll
	return []mailing.Stats{{MailingID: 1}}, nil
}

func TestStatsFor(t *testing.T) {
	a := New(&fakeReader{})
	st, err := a.StatsFor(context.Background(), 7)
	if err != nil {
		t.Fatal(err)
	}
	if st.Sent != 3 || st.Errored != 1 || st.Total != 4 {
		t.Fatalf("unexpected stats: %+v", st)
	}
}

func TestStatsForViewer_OwnerRestricted(t *testing.T) {
	fr := &fakeReader{}
	a := New(fr)

	if _, err := a.StatsForViewer(context.Background(), Viewer{Email: "u@x.com"}, 24*time.Hour); err != nil {
		t.Fatal(err)
	}
	if fr.lastViewAll {
		t.Fatal("ordinary caller must not aggregate across owners")
	}
	if fr.lastOwner != "u@x.com" {
		t.Fatalf("owner filter lost: %q", fr.lastOwner)
	}
	if fr.lastSince.IsZero() {
		t.Fatal("period filter lost")
	}
}

func TestStatsForViewer_ManagerSeesAll(t *testing.T) {
	fr := &fakeReader{}
	a := New(fr)

	if _, err := a.StatsForViewer(context.Background(), Viewer{Email: "boss@x.com", Manager: true}, 0); err != nil {
		t.Fatal(err)
	}
	if !fr.lastViewAll {
		t.Fatal("manager must aggregate across all owners")
	}
	if !fr.lastSince.IsZero() {
		t.Fatal("zero period must mean the whole history")
	}
}
