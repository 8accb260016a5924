// Package responsestest holds behaviour checks shared by every response
// repository backend.
package responsestest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/mohammed-shakir/survey-spatial-api/internal/core/model"
	"github.com/mohammed-shakir/survey-spatial-api/internal/responses"
)

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// Seed inserts n responses into survey sid. Response i is created i
// microseconds after a fixed base, sits on parcel "p<i%3>" and has a
// centroid spread across a small Detroit grid.
func Seed(t *testing.T, repo responses.Repository, sid string, n int) []model.Response {
	t.Helper()
	out := make([]model.Response, n)
	for i := range n {
		r := model.Response{
			ID:       fmt.Sprintf("r%02d", i),
			Survey:   sid,
			ParcelID: fmt.Sprintf("p%d", i%3),
			GeoInfo: &model.GeoInfo{Centroid: &model.Point{
				Lon: -83.10 + float64(i%5)*0.01,
				Lat: 42.30 + float64(i/5)*0.01,
			}},
			Responses: map[string]any{"site": "vacant", "n": float64(i)},
			Created:   base.Add(time.Duration(i) * time.Microsecond),
		}
		if err := repo.Insert(context.Background(), r); err != nil {
			t.Fatalf("insert %s: %v", r.ID, err)
		}
		out[i] = r
	}
	return out
}

// Run exercises the Repository contract against a fresh store per subtest.
func Run(t *testing.T, newRepo func(t *testing.T) responses.Repository) {
	ctx := context.Background()

	t.Run("order", func(t *testing.T) {
		repo := newRepo(t)
		Seed(t, repo, "s1", 12)
		// same created, tie broken by id
		tie := model.Response{ID: "r00a", Survey: "s1", Created: base}
		if err := repo.Insert(ctx, tie); err != nil {
			t.Fatal(err)
		}

		desc, err := repo.List(ctx, "s1", responses.Filters{}, model.Unpaged(), model.SortDesc)
		if err != nil {
			t.Fatal(err)
		}
		if len(desc) != 13 {
			t.Fatalf("len=%d want 13", len(desc))
		}
		for i := 1; i < len(desc); i++ {
			if desc[i].Created.After(desc[i-1].Created) {
				t.Fatalf("desc order broken at %d", i)
			}
		}
		if desc[len(desc)-2].ID != "r00a" || desc[len(desc)-1].ID != "r00" {
			t.Fatalf("tie order: %s %s", desc[len(desc)-2].ID, desc[len(desc)-1].ID)
		}

		asc, err := repo.List(ctx, "s1", responses.Filters{}, model.Unpaged(), model.SortAsc)
		if err != nil {
			t.Fatal(err)
		}
		for i := 1; i < len(asc); i++ {
			if asc[i].Created.Before(asc[i-1].Created) {
				t.Fatalf("asc order broken at %d", i)
			}
		}
		if asc[0].ID != "r00" {
			t.Fatalf("asc first=%s", asc[0].ID)
		}
	})

	t.Run("paging is a slice of the full order", func(t *testing.T) {
		repo := newRepo(t)
		Seed(t, repo, "s1", 20)
		full, err := repo.List(ctx, "s1", responses.Filters{}, model.Unpaged(), model.SortDesc)
		if err != nil {
			t.Fatal(err)
		}
		page, err := repo.List(ctx, "s1", responses.Filters{}, model.Paging{StartIndex: 5, Count: 10}, model.SortDesc)
		if err != nil {
			t.Fatal(err)
		}
		if len(page) != 10 || page[0].ID != full[5].ID || page[9].ID != full[14].ID {
			t.Fatalf("page=%v", ids(page))
		}
		empty, err := repo.List(ctx, "s1", responses.Filters{}, model.Paging{StartIndex: 50, Count: 10}, model.SortDesc)
		if err != nil || len(empty) != 0 {
			t.Fatalf("past end: %v %v", ids(empty), err)
		}
		zero, err := repo.List(ctx, "s1", responses.Filters{}, model.Paging{Count: 0}, model.SortDesc)
		if err != nil || len(zero) != 0 {
			t.Fatalf("count=0: %v %v", ids(zero), err)
		}
	})

	t.Run("bbox is strict", func(t *testing.T) {
		repo := newRepo(t)
		Seed(t, repo, "s1", 20)
		// row 0 and 1 only, columns 1..3; row 0 lat 42.30 sits on the edge
		bb := model.BBox{MinLon: -83.095, MinLat: 42.30, MaxLon: -83.065, MaxLat: 42.315}
		got, err := repo.List(ctx, "s1", responses.Filters{BBox: &bb}, model.Unpaged(), model.SortAsc)
		if err != nil {
			t.Fatal(err)
		}
		want := []string{"r06", "r07", "r08"}
		if fmt.Sprint(ids(got)) != fmt.Sprint(want) {
			t.Fatalf("got %v want %v", ids(got), want)
		}
		for _, r := range got {
			c, _ := r.Centroid()
			if !bb.ContainsStrict(c) {
				t.Fatalf("%s outside box", r.ID)
			}
		}

		water := model.BBox{MinLon: -82.9, MinLat: 42.0, MaxLon: -82.8, MaxLat: 42.1}
		none, err := repo.List(ctx, "s1", responses.Filters{BBox: &water}, model.Unpaged(), model.SortDesc)
		if err != nil || len(none) != 0 {
			t.Fatalf("open water: %v %v", ids(none), err)
		}
	})

	t.Run("parcel", func(t *testing.T) {
		repo := newRepo(t)
		Seed(t, repo, "s1", 9)
		got, err := repo.List(ctx, "s1", responses.Filters{ParcelID: "p1"}, model.Unpaged(), model.SortAsc)
		if err != nil {
			t.Fatal(err)
		}
		if fmt.Sprint(ids(got)) != "[r01 r04 r07]" {
			t.Fatalf("got %v", ids(got))
		}
	})

	t.Run("surveys are isolated", func(t *testing.T) {
		repo := newRepo(t)
		Seed(t, repo, "s1", 3)
		Seed(t, repo, "s2", 2)
		got, err := repo.List(ctx, "s2", responses.Filters{}, model.Unpaged(), model.SortDesc)
		if err != nil || len(got) != 2 {
			t.Fatalf("got %v err=%v", ids(got), err)
		}
	})

	t.Run("find and remove", func(t *testing.T) {
		repo := newRepo(t)
		seeded := Seed(t, repo, "s1", 4)
		Seed(t, repo, "s2", 1)

		found, err := repo.Find(ctx, "s1", "r02")
		if err != nil || len(found) != 1 {
			t.Fatalf("find: %v %v", found, err)
		}
		if found[0].ParcelID != seeded[2].ParcelID || !found[0].Created.Equal(seeded[2].Created) {
			t.Fatalf("round trip lost fields: %+v", found[0])
		}
		if c, ok := found[0].Centroid(); !ok || c != *seeded[2].GeoInfo.Centroid {
			t.Fatalf("centroid=%v", c)
		}
		if miss, err := repo.Find(ctx, "s1", "nope"); err != nil || len(miss) != 0 {
			t.Fatalf("missing: %v %v", miss, err)
		}

		n, err := repo.RemoveOne(ctx, "s1", "r02")
		if err != nil || n != 1 {
			t.Fatalf("remove one: n=%d err=%v", n, err)
		}
		if n, _ := repo.RemoveOne(ctx, "s1", "r02"); n != 0 {
			t.Fatalf("second remove one n=%d", n)
		}
		byParcel, _ := repo.List(ctx, "s1", responses.Filters{ParcelID: seeded[2].ParcelID}, model.Unpaged(), model.SortAsc)
		if len(byParcel) != 0 {
			t.Fatalf("parcel index still lists %v", ids(byParcel))
		}

		n, err = repo.Remove(ctx, "s1")
		if err != nil || n != 3 {
			t.Fatalf("remove: n=%d err=%v", n, err)
		}
		if n, _ := repo.Remove(ctx, "s1"); n != 0 {
			t.Fatalf("second remove n=%d", n)
		}
		left, _ := repo.List(ctx, "s2", responses.Filters{}, model.Unpaged(), model.SortDesc)
		if len(left) != 1 {
			t.Fatalf("other survey affected: %v", ids(left))
		}
	})

	t.Run("ping", func(t *testing.T) {
		if err := newRepo(t).Ping(ctx); err != nil {
			t.Fatalf("ping: %v", err)
		}
	})
}

func ids(rs []model.Response) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.ID
	}
	return out
}
