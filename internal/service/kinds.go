package service

import (
	"go.mongodb.org/mongo-driver/bson"

	"github.com/pribylovaa/apparel-admin/internal/models"
)

// Kind описывает вид сущности для Catalog.
//   - SearchFields — поля подстрочного поиска (и полнотекстового индекса);
//   - FilterFields — поля, допустимые в фильтрах равенства;
//   - SortFields — допустимые поля сортировки; первый — по умолчанию;
//   - Defaults — значения для пустых полей при создании;
//   - Images — сущность поддерживает изображения (поле images управляется сервисом);
//   - Indexed — сущность попадает в полнотекстовый индекс.
type Kind struct {
	Collection   string
	SearchFields []string
	FilterFields []string
	SortFields   []string
	DefaultDesc  bool
	Defaults     map[string]any
	Images       bool
	Indexed      bool
}

// Виды сущностей приложения.
var (
	ItemKind = Kind{
		Collection:   models.CollectionItems,
		SearchFields: []string{"sku", "name", "category", "color", "description"},
		FilterFields: []string{"status", "category", "season", "color", "pattern_id"},
		SortFields:   []string{"created_at", "updated_at", "name", "sku", "price", "category", "season"},
		DefaultDesc:  true,
		Defaults:     map[string]any{"status": models.StatusActive, "sizes": bson.A{}, "fabric_ids": bson.A{}},
		Images:       true,
		Indexed:      true,
	}

	FabricKind = Kind{
		Collection:   models.CollectionFabrics,
		SearchFields: []string{"code", "name", "manufacturer", "composition", "color"},
		FilterFields: []string{"status", "manufacturer", "color"},
		SortFields:   []string{"created_at", "updated_at", "code", "name", "manufacturer", "unit_price"},
		DefaultDesc:  true,
		Defaults:     map[string]any{"status": models.StatusActive},
		Images:       true,
		Indexed:      true,
	}

	PatternKind = Kind{
		Collection:   models.CollectionPatterns,
		SearchFields: []string{"code", "name", "category", "designer"},
		FilterFields: []string{"status", "category", "designer"},
		SortFields:   []string{"created_at", "updated_at", "code", "name", "category"},
		DefaultDesc:  true,
		Defaults:     map[string]any{"status": models.StatusActive},
		Images:       true,
		Indexed:      true,
	}

	ExhibitionKind = Kind{
		Collection:   models.CollectionExhibitions,
		SearchFields: []string{"code", "name", "venue"},
		FilterFields: []string{"status"},
		SortFields:   []string{"created_at", "updated_at", "code", "name"},
		DefaultDesc:  true,
		Defaults:     map[string]any{"status": models.StatusDraft, "item_ids": bson.A{}},
	}

	PickupKind = Kind{
		Collection:   models.CollectionPickups,
		SearchFields: []string{"code", "customer_name"},
		FilterFields: []string{"status", "exhibition_id"},
		SortFields:   []string{"created_at", "updated_at", "code", "customer_name"},
		DefaultDesc:  true,
		Defaults:     map[string]any{"status": models.StatusActive, "item_ids": bson.A{}},
	}

	LoanKind = Kind{
		Collection:   models.CollectionLoans,
		SearchFields: []string{"borrower", "contact", "notes"},
		FilterFields: []string{"status", "item_id"},
		SortFields:   []string{"loaned_at", "due_at", "created_at", "borrower"},
		DefaultDesc:  true,
		Defaults:     map[string]any{"status": models.StatusOnLoan},
	}
)

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
