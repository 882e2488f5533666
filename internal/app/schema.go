package app

import (
	"reflect"
	"sync"

	"invoicehub/internal/core"

	"github.com/invopop/jsonschema"
	"github.com/shopspring/decimal"
)

var decimalType = reflect.TypeOf(decimal.Decimal{})

var (
	schemasOnce sync.Once
	schemas     map[string]any
)

// documentSchemas reflects the stored document types once. Decimals are plain JSON numbers.
func documentSchemas() map[string]any {
	schemasOnce.Do(func() {
		reflector := jsonschema.Reflector{
			AllowAdditionalProperties: true,
			DoNotReference:            true,
			Mapper: func(t reflect.Type) *jsonschema.Schema {
				if t == decimalType {
					return &jsonschema.Schema{Type: "number"}
				}
				return nil
			},
		}
		docs := map[string]any{
			core.CollCompanies:            core.Company{},
			core.CollClients:              core.Client{},
			core.CollInvoices:             core.Invoice{},
			core.CollPayments:             core.LedgerEntry{},
			core.CollStockDetails:         core.StockDetail{},
			core.CollProductDefinitions:   core.Definition{},
			core.CollInventoryDefinitions: core.Definition{},
			core.CollPurchaseOrders:       core.PurchaseOrder{},
			core.CollPurchaseRequests:     core.PurchaseRequest{},
			core.CollEmployees:            core.Employee{},
			core.CollOutbox:               core.OutboxRecord{},
		}
		schemas = make(map[string]any, len(docs))
		for coll, v := range docs {
			schemas[coll] = reflector.Reflect(v)
		}
	})
	return schemas
}
