package responses_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mohammed-shakir/survey-spatial-api/internal/core/model"
	"github.com/mohammed-shakir/survey-spatial-api/internal/responses"
	"github.com/mohammed-shakir/survey-spatial-api/internal/responses/memrepo"
)

type recorder struct {
	deleted []string
	cleared map[string]int
}

func (r *recorder) Deleted(_ context.Context, sid, rid string) { r.deleted = append(r.deleted, sid+"/"+rid) }
func (r *recorder) Cleared(_ context.Context, sid string, n int) {
	if r.cleared == nil {
		r.cleared = map[string]int{}
	}
	r.cleared[sid] = n
}

type failing struct{ responses.Repository }

func (failing) List(context.Context, string, responses.Filters, model.Paging, model.SortOrder) ([]model.Response, error) {
	return nil, errors.New("boom")
}

func TestFilters_Match(t *testing.T) {
	bb := model.BBox{MinLon: 0, MinLat: 0, MaxLon: 1, MaxLat: 1}
	in := model.Response{ParcelID: "p", GeoInfo: &model.GeoInfo{Centroid: &model.Point{Lon: 0.5, Lat: 0.5}}}
	edge := model.Response{GeoInfo: &model.GeoInfo{Centroid: &model.Point{Lon: 0, Lat: 0.5}}}
	none := model.Response{}

	cases := []struct {
		name string
		f    responses.Filters
		r    model.Response
		want bool
	}{
		{"no filter", responses.Filters{}, none, true},
		{"inside", responses.Filters{BBox: &bb}, in, true},
		{"on edge", responses.Filters{BBox: &bb}, edge, false},
		{"no centroid", responses.Filters{BBox: &bb}, none, false},
		{"parcel match", responses.Filters{ParcelID: "p", BBox: &bb}, in, true},
		{"parcel mismatch", responses.Filters{ParcelID: "q"}, in, false},
	}
	for _, c := range cases {
		if got := c.f.Match(c.r); got != c.want {
			t.Fatalf("%s: got %v want %v", c.name, got, c.want)
		}
	}
}

func TestGetOne_DuplicateIsWarningAndFirstWins(t *testing.T) {
	repo := memrepo.New()
	ctx := context.Background()
	_ = repo.Insert(ctx, model.Response{ID: "x", Survey: "s", Responses: map[string]any{"v": "first"}})
	_ = repo.Insert(ctx, model.Response{ID: "x", Survey: "s", Responses: map[string]any{"v": "second"}})

	var hookMatches int
	svc := responses.NewService(repo, nil, responses.WithIntegrityHook(func(_ context.Context, _, _ string, n int) {
		hookMatches = n
	}))
	got, err := svc.GetOne(ctx, "s", "x")
	if err != nil {
		t.Fatalf("GetOne: %v", err)
	}
	if got == nil || got.Responses["v"] != "first" {
		t.Fatalf("got %+v", got)
	}
	if hookMatches != 2 {
		t.Fatalf("hook saw %d matches", hookMatches)
	}

	missing, err := svc.GetOne(ctx, "s", "nope")
	if err != nil || missing != nil {
		t.Fatalf("missing=%v err=%v", missing, err)
	}
}

func TestListByParcel(t *testing.T) {
	repo := memrepo.New()
	ctx := context.Background()
	t0 := time.Unix(100, 0)
	for i, pid := range []string{"a", "b", "a"} {
		_ = repo.Insert(ctx, model.Response{ID: string(rune('0' + i)), Survey: "s", ParcelID: pid, Created: t0.Add(time.Duration(i) * time.Second)})
	}
	got, err := responses.NewService(repo, nil).ListByParcel(ctx, "s", "a", model.Unpaged(), model.SortDesc)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != "2" || got[1].ID != "0" {
		t.Fatalf("got %+v", got)
	}
}

func TestRemove_NotifiesOnlyWhenSomethingWasDeleted(t *testing.T) {
	repo := memrepo.New()
	ctx := context.Background()
	_ = repo.Insert(ctx, model.Response{ID: "1", Survey: "s"})
	_ = repo.Insert(ctx, model.Response{ID: "2", Survey: "s"})

	rec := &recorder{}
	svc := responses.NewService(repo, nil, responses.WithNotifier(rec))

	if n, err := svc.RemoveOne(ctx, "s", "1"); err != nil || n != 1 {
		t.Fatalf("RemoveOne n=%d err=%v", n, err)
	}
	if n, _ := svc.RemoveOne(ctx, "s", "1"); n != 0 {
		t.Fatalf("second RemoveOne n=%d", n)
	}
	if n, err := svc.Remove(ctx, "s"); err != nil || n != 1 {
		t.Fatalf("Remove n=%d err=%v", n, err)
	}
	if n, _ := svc.Remove(ctx, "s"); n != 0 {
		t.Fatalf("second Remove n=%d", n)
	}
	if len(rec.deleted) != 1 || rec.deleted[0] != "s/1" || rec.cleared["s"] != 1 {
		t.Fatalf("notifications deleted=%v cleared=%v", rec.deleted, rec.cleared)
	}
}

func TestStoreErrorsAreWrapped(t *testing.T) {
	svc := responses.NewService(failing{memrepo.New()}, nil)
	_, err := svc.List(context.Background(), "s", responses.Filters{}, model.Unpaged(), model.SortDesc)
	if !errors.Is(err, responses.ErrStore) {
		t.Fatalf("err=%v want ErrStore", err)
	}
}

func TestSelect_StableForIdenticalKeys(t *testing.T) {
	t0 := time.Unix(0, 0)
	in := []model.Response{
		{ID: "a", Created: t0, Responses: map[string]any{"n": 1.0}},
		{ID: "a", Created: t0, Responses: map[string]any{"n": 2.0}},
		{ID: "b", Created: t0},
	}
	got := responses.Select(in, responses.Filters{}, model.Unpaged(), model.SortDesc)
	if got[0].ID != "b" || got[1].Responses["n"] != 1.0 {
		t.Fatalf("got %+v", got)
	}
}
