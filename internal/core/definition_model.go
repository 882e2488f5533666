package core

import (
	"context"
	"fmt"
)

// DefinitionKind selects the catalog a definition belongs to.
type DefinitionKind string

const (
	DefinitionProduct   DefinitionKind = "product"
	DefinitionInventory DefinitionKind = "inventory"
)

func (k DefinitionKind) collection() (string, error) {
	switch k {
	case DefinitionProduct:
		return CollProductDefinitions, nil
	case DefinitionInventory:
		return CollInventoryDefinitions, nil
	default:
		return "", invalid("kind", fmt.Sprintf("unknown definition kind %q", k))
	}
}

// DefinitionService maintains the product and inventory catalogs.
type DefinitionService interface {
	Create(ctx context.Context, companyID string, kind DefinitionKind, in DefinitionInput) (*Definition, error)
	List(ctx context.Context, companyID string, kind DefinitionKind) ([]Definition, error)
	// DeleteCategory removes every product and inventory definition in category. Deletes run
	// concurrently and each failure is reported without stopping the others.
	DeleteCategory(ctx context.Context, companyID, category string) (*DeleteCategoryResult, error)
}

type DefinitionInput struct {
	ProductCategory string   `json:"productCategory" validate:"required"`
	Name            string   `json:"name" validate:"required"`
	Versions        []string `json:"versions"`
}

// DeleteCategoryResult accumulates the outcome of a category delete.
type DeleteCategoryResult struct {
	Deleted []string        `json:"deleted"`
	Failed  []DeleteFailure `json:"failed"`
}

type DeleteFailure struct {
	Collection string `json:"collection"`
	ID         string `json:"id"`
	Error      string `json:"error"`
}
