package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"invoicehub/internal/docstore"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// maxParallelDeletes bounds the DeleteCategory fan-out.
const maxParallelDeletes = 8

type definitionService struct {
	store docstore.Store
	clock Clock
}

// NewDefinitionService constructs a DefinitionService backed by the document store.
func NewDefinitionService(store docstore.Store, clock Clock) DefinitionService {
	if clock == nil {
		clock = time.Now
	}
	return &definitionService{store: store, clock: clock}
}

func (s *definitionService) Create(ctx context.Context, companyID string, kind DefinitionKind, in DefinitionInput) (*Definition, error) {
	coll, err := kind.collection()
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.ProductCategory) == "" {
		return nil, invalid("productCategory", "is required")
	}
	if strings.TrimSpace(in.Name) == "" {
		return nil, invalid("name", "is required")
	}
	versions := make([]string, 0, len(in.Versions))
	for _, v := range in.Versions {
		if v = strings.TrimSpace(v); v != "" {
			versions = append(versions, v)
		}
	}
	d := Definition{
		ID:              uuid.NewString(),
		CompanyID:       companyID,
		ProductCategory: strings.TrimSpace(in.ProductCategory),
		Name:            strings.TrimSpace(in.Name),
		Versions:        versions,
		CreatedAt:       s.clock().UTC(),
	}
	if err := s.store.Set(ctx, coll, d.ID, d); err != nil {
		return nil, fmt.Errorf("create %s definition %q: %w", kind, d.Name, err)
	}
	return &d, nil
}

func (s *definitionService) List(ctx context.Context, companyID string, kind DefinitionKind) ([]Definition, error) {
	coll, err := kind.collection()
	if err != nil {
		return nil, err
	}
	return list[Definition](ctx, s.store, coll, byCompany(companyID))
}

func (s *definitionService) DeleteCategory(ctx context.Context, companyID, category string) (*DeleteCategoryResult, error) {
	if strings.TrimSpace(category) == "" {
		return nil, invalid("category", "is required")
	}

	type target struct{ coll, id string }
	var targets []target
	for _, coll := range []string{CollProductDefinitions, CollInventoryDefinitions} {
		snaps, err := s.store.Query(ctx, coll, byCompany(companyID), docstore.Where("productCategory", category))
		if err != nil {
			return nil, fmt.Errorf("failed to query %s: %w", coll, err)
		}
		for _, snap := range snaps {
			targets = append(targets, target{coll: coll, id: snap.ID})
		}
	}

	res := &DeleteCategoryResult{Deleted: []string{}, Failed: []DeleteFailure{}}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelDeletes)
	for _, t := range targets {
		t := t
		g.Go(func() error {
			err := s.store.Delete(gctx, t.coll, t.id)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Failed = append(res.Failed, DeleteFailure{Collection: t.coll, ID: t.id, Error: err.Error()})
				return nil
			}
			res.Deleted = append(res.Deleted, t.id)
			return nil
		})
	}
	// Workers report failures into res and never return an error.
	_ = g.Wait()

	sort.Strings(res.Deleted)
	sort.Slice(res.Failed, func(i, j int) bool { return res.Failed[i].ID < res.Failed[j].ID })
	return res, nil
}
