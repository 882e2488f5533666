package core

import (
	"context"
	"fmt"

	"invoicehub/internal/docstore"
)

// load reads and decodes one document. Misses are reported as ErrNotFound.
func load[T any](ctx context.Context, r docstore.Reader, collection, id string) (*T, error) {
	snap, err := r.Get(ctx, collection, id)
	if err != nil {
		return nil, notFound(err, collection, id)
	}
	var out T
	if err := snap.Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

// list decodes every document matching filters, ordered by id.
func list[T any](ctx context.Context, r docstore.Reader, collection string, filters ...docstore.Filter) ([]T, error) {
	snaps, err := r.Query(ctx, collection, filters...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", collection, err)
	}
	out := make([]T, 0, len(snaps))
	for _, s := range snaps {
		var v T
		if err := s.Decode(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func byCompany(companyID string) docstore.Filter {
	return docstore.Where("companyId", companyID)
}

func byStockKey(k StockKey) []docstore.Filter {
	return []docstore.Filter{
		docstore.Where("productCategory", k.ProductCategory),
		docstore.Where("itemName", k.ItemName),
		docstore.Where("productVersion", k.ProductVersion),
	}
}
