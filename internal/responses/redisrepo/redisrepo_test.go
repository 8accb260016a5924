package redisrepo

import (
	"context"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/mohammed-shakir/survey-spatial-api/internal/cache/keys"
	"github.com/mohammed-shakir/survey-spatial-api/internal/cache/redisstore"
	"github.com/mohammed-shakir/survey-spatial-api/internal/core/model"
	h3mapper "github.com/mohammed-shakir/survey-spatial-api/internal/mapper/h3"
	"github.com/mohammed-shakir/survey-spatial-api/internal/responses"
	"github.com/mohammed-shakir/survey-spatial-api/internal/responses/responsestest"
)

func newRepo(t *testing.T, maxCells int) (*Repo, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	c, err := redisstore.New(ctx, mr.Addr())
	if err != nil {
		t.Fatalf("redisstore.New: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return New(c, h3mapper.New(maxCells), 9, nil), mr
}

func TestRepo_Conformance(t *testing.T) {
	responsestest.Run(t, func(t *testing.T) responses.Repository {
		r, _ := newRepo(t, 0)
		return r
	})
}

func TestRepo_BBoxFallsBackToScanAboveCellLimit(t *testing.T) {
	r, _ := newRepo(t, 4)
	responsestest.Seed(t, r, "s1", 20)

	bb := model.BBox{MinLon: -83.095, MinLat: 42.30, MaxLon: -83.065, MaxLat: 42.315}
	got, err := r.List(context.Background(), "s1", responses.Filters{BBox: &bb}, model.Unpaged(), model.SortAsc)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 3 || got[0].ID != "r06" {
		t.Fatalf("fallback result=%v", got)
	}
}

func TestRepo_InsertWritesIndexes(t *testing.T) {
	r, mr := newRepo(t, 0)
	resp := model.Response{
		ID:       "a",
		Survey:   "survey 1",
		ParcelID: "06000402.",
		GeoInfo:  &model.GeoInfo{Centroid: &model.Point{Lon: -83.06, Lat: 42.33}},
		Created:  time.Date(2024, 5, 1, 0, 0, 0, 1000, time.UTC),
	}
	if err := r.Insert(context.Background(), resp); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	if !mr.Exists(keys.Doc("survey 1", "a")) {
		t.Fatalf("document missing")
	}
	s, err := mr.ZScore(keys.Created("survey 1"), "a")
	if err != nil || s != float64(resp.Created.UnixMicro()) {
		t.Fatalf("created score=%v err=%v", s, err)
	}
	if _, err := mr.ZScore(keys.Parcel("survey 1", "06000402."), "a"); err != nil {
		t.Fatalf("parcel index: %v", err)
	}
	cell, _ := r.mapper.CellForPoint(*resp.GeoInfo.Centroid, 9)
	if _, err := mr.ZScore(keys.Cell("survey 1", 9, cell), "a"); err != nil {
		t.Fatalf("cell index: %v", err)
	}
}

func TestRepo_InsertRejectsMissingIdentity(t *testing.T) {
	r, _ := newRepo(t, 0)
	if err := r.Insert(context.Background(), model.Response{Survey: "s"}); err == nil {
		t.Fatalf("expected error for empty id")
	}
}

func TestRepo_StoreErrorsSurface(t *testing.T) {
	r, mr := newRepo(t, 0)
	mr.Close()
	if _, err := r.List(context.Background(), "s1", responses.Filters{}, model.Unpaged(), model.SortDesc); err == nil {
		t.Fatalf("expected error with redis down")
	}
	if err := r.Ping(context.Background()); err == nil {
		t.Fatalf("expected ping error")
	}
}

func TestRepo_RemoveCountsDeletedDocuments(t *testing.T) {
	r, mr := newRepo(t, 0)
	responsestest.Seed(t, r, "s1", 5)
	responsestest.Seed(t, r, "s2", 2)

	// an index entry without a document and documents without index entries
	if _, err := mr.ZAdd(keys.Created("s1"), 1, "ghost"); err != nil {
		t.Fatalf("ZAdd: %v", err)
	}
	for _, id := range []string{"orphan1", "orphan2"} {
		if err := mr.Set(keys.Doc("s1", id), `{"id":"`+id+`"}`); err != nil {
			t.Fatalf("Set: %v", err)
		}
	}

	n, err := r.Remove(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if n != 7 {
		t.Fatalf("removed=%d want 7", n)
	}
	for _, k := range mr.Keys() {
		if strings.HasPrefix(k, keys.Survey("s1")) {
			t.Fatalf("key %q survived", k)
		}
	}

	n, err = r.Remove(context.Background(), "s1")
	if err != nil || n != 0 {
		t.Fatalf("second Remove=%d err=%v want 0", n, err)
	}
	left, err := r.List(context.Background(), "s2", responses.Filters{}, model.Unpaged(), model.SortAsc)
	if err != nil || len(left) != 2 {
		t.Fatalf("other survey=%d err=%v", len(left), err)
	}
}
