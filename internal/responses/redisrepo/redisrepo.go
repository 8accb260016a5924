// Package redisrepo stores responses in Redis as JSON documents indexed by
// sorted sets scored with the creation time in microseconds.
package redisrepo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/mohammed-shakir/survey-spatial-api/internal/cache/keys"
	"github.com/mohammed-shakir/survey-spatial-api/internal/cache/redisstore"
	"github.com/mohammed-shakir/survey-spatial-api/internal/core/model"
	"github.com/mohammed-shakir/survey-spatial-api/internal/mapper"
	h3mapper "github.com/mohammed-shakir/survey-spatial-api/internal/mapper/h3"
	"github.com/mohammed-shakir/survey-spatial-api/internal/responses"
)

const (
	DefaultRes = 9
	delBatch   = 500
)

type Repo struct {
	c      *redisstore.Client
	mapper mapper.Interface
	res    int
	logger *slog.Logger
}

var _ responses.Repository = (*Repo)(nil)

func New(c *redisstore.Client, m mapper.Interface, res int, logger *slog.Logger) *Repo {
	if res < 0 || res > 15 {
		res = DefaultRes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Repo{c: c, mapper: m, res: res, logger: logger}
}

// Insert writes the document and every index entry in one MULTI/EXEC.
func (r *Repo) Insert(ctx context.Context, resp model.Response) error {
	if resp.Survey == "" || resp.ID == "" {
		return errors.New("response requires survey and id")
	}
	doc, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("marshal response %q: %w", resp.ID, err)
	}
	cellKey, err := r.cellKey(resp)
	if err != nil {
		return err
	}
	z := redis.Z{Score: score(resp), Member: resp.ID}

	return r.c.TxPipelined(ctx, "insert", func(p redis.Pipeliner) error {
		p.Set(ctx, keys.Doc(resp.Survey, resp.ID), doc, 0)
		p.ZAdd(ctx, keys.Created(resp.Survey), z)
		if resp.ParcelID != "" {
			p.ZAdd(ctx, keys.Parcel(resp.Survey, resp.ParcelID), z)
		}
		if cellKey != "" {
			p.ZAdd(ctx, cellKey, z)
		}
		return nil
	})
}

func (r *Repo) List(ctx context.Context, surveyID string, f responses.Filters, p model.Paging, s model.SortOrder) ([]model.Response, error) {
	if p.Count == 0 {
		return []model.Response{}, nil
	}
	base := keys.Created(surveyID)
	if f.ParcelID != "" {
		base = keys.Parcel(surveyID, f.ParcelID)
	}
	if f.BBox == nil {
		return r.listByRank(ctx, surveyID, base, p, s)
	}

	ids, err := r.candidates(ctx, surveyID, base, *f.BBox)
	if err != nil {
		return nil, err
	}
	all, err := r.load(ctx, surveyID, ids)
	if err != nil {
		return nil, err
	}
	return responses.Select(all, f, p, s), nil
}

// listByRank pages directly on the sorted set. Members with equal scores
// are ordered by id, so a reverse range is the exact descending order.
func (r *Repo) listByRank(ctx context.Context, surveyID, key string, p model.Paging, s model.SortOrder) ([]model.Response, error) {
	start := int64(max(p.StartIndex, 0))
	stop := int64(-1)
	if !p.Unbounded() {
		stop = start + int64(p.Count) - 1
	}
	ids, err := r.c.ZRange(ctx, key, start, stop, s != model.SortAsc)
	if err != nil {
		return nil, err
	}
	out, err := r.load(ctx, surveyID, ids)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// candidates returns ids from the cells covering the box, or every id of
// base when the cover is too large.
func (r *Repo) candidates(ctx context.Context, surveyID, base string, bb model.BBox) ([]string, error) {
	cells, err := r.mapper.CellsForBBox(bb, r.res)
	if err != nil {
		if !errors.Is(err, h3mapper.ErrTooManyCells) {
			r.logger.WarnContext(ctx, "h3 cover failed; scanning survey", "err", err, "bbox", bb.String())
		}
		return r.c.ZRange(ctx, base, 0, -1, false)
	}

	seen := map[string]struct{}{}
	var ids []string
	for _, cell := range cells {
		members, err := r.c.ZRange(ctx, keys.Cell(surveyID, r.res, cell), 0, -1, false)
		if err != nil {
			return nil, err
		}
		for _, m := range members {
			if _, dup := seen[m]; dup {
				continue
			}
			seen[m] = struct{}{}
			ids = append(ids, m)
		}
	}
	return ids, nil
}

// load fetches documents in id order. Index entries without a document are
// skipped.
func (r *Repo) load(ctx context.Context, surveyID string, ids []string) ([]model.Response, error) {
	if len(ids) == 0 {
		return []model.Response{}, nil
	}
	docKeys := make([]string, len(ids))
	for i, id := range ids {
		docKeys[i] = keys.Doc(surveyID, id)
	}
	found, err := r.c.MGet(ctx, docKeys)
	if err != nil {
		return nil, err
	}
	out := make([]model.Response, 0, len(found))
	for _, k := range docKeys {
		b, ok := found[k]
		if !ok {
			continue
		}
		var resp model.Response
		if err := json.Unmarshal(b, &resp); err != nil {
			return nil, fmt.Errorf("decode %s: %w", k, err)
		}
		out = append(out, resp)
	}
	return out, nil
}

func (r *Repo) Find(ctx context.Context, surveyID, responseID string) ([]model.Response, error) {
	b, ok, err := r.c.Get(ctx, keys.Doc(surveyID, responseID))
	if err != nil || !ok {
		return nil, err
	}
	var resp model.Response
	if err := json.Unmarshal(b, &resp); err != nil {
		return nil, fmt.Errorf("decode response %q: %w", responseID, err)
	}
	return []model.Response{resp}, nil
}

// Remove deletes every key of the survey and returns the number of
// response documents the deletes actually removed. Documents go first so
// listings never see an index entry outlive a counted delete.
func (r *Repo) Remove(ctx context.Context, surveyID string) (int, error) {
	all, err := r.c.ScanKeys(ctx, keys.Pattern(surveyID), 0)
	if err != nil {
		return 0, err
	}
	docPrefix := keys.DocPrefix(surveyID)
	var docs, indexes []string
	for _, k := range all {
		if strings.HasPrefix(k, docPrefix) {
			docs = append(docs, k)
		} else {
			indexes = append(indexes, k)
		}
	}

	var n int64
	for i := 0; i < len(docs); i += delBatch {
		d, err := r.c.Del(ctx, docs[i:min(i+delBatch, len(docs))]...)
		if err != nil {
			return int(n), err
		}
		n += d
	}
	for i := 0; i < len(indexes); i += delBatch {
		if _, err := r.c.Del(ctx, indexes[i:min(i+delBatch, len(indexes))]...); err != nil {
			return int(n), err
		}
	}
	return int(n), nil
}

func (r *Repo) RemoveOne(ctx context.Context, surveyID, responseID string) (int, error) {
	found, err := r.Find(ctx, surveyID, responseID)
	if err != nil || len(found) == 0 {
		return 0, err
	}
	resp := found[0]
	cellKey, err := r.cellKey(resp)
	if err != nil {
		return 0, err
	}
	var del *redis.IntCmd
	err = r.c.TxPipelined(ctx, "remove", func(p redis.Pipeliner) error {
		del = p.Del(ctx, keys.Doc(surveyID, responseID))
		p.ZRem(ctx, keys.Created(surveyID), responseID)
		if resp.ParcelID != "" {
			p.ZRem(ctx, keys.Parcel(surveyID, resp.ParcelID), responseID)
		}
		if cellKey != "" {
			p.ZRem(ctx, cellKey, responseID)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	// a concurrent remove may have won the race
	return int(del.Val()), nil
}

func (r *Repo) Ping(ctx context.Context) error { return r.c.Ping(ctx) }

func (r *Repo) cellKey(resp model.Response) (string, error) {
	c, ok := resp.Centroid()
	if !ok {
		return "", nil
	}
	cell, err := r.mapper.CellForPoint(c, r.res)
	if err != nil {
		return "", fmt.Errorf("cell for response %q: %w", resp.ID, err)
	}
	return keys.Cell(resp.Survey, r.res, cell), nil
}

func score(resp model.Response) float64 {
	return float64(resp.Created.UnixMicro())
}
