// Package models содержит доменные сущности apparel-admin.
//
// Имена полей в BSON и JSON совпадают (snake_case): частичные обновления
// приходят из JSON и пишутся в документ под теми же ключами.
package models

import "time"

// Статусы мастер-данных и подборок.
const (
	StatusActive    = "active"
	StatusArchived  = "archived"
	StatusDraft     = "draft"
	StatusPublished = "published"
	StatusOnLoan    = "on_loan"
	StatusReturned  = "returned"
)

// Коллекции документного хранилища.
const (
	CollectionItems       = "items"
	CollectionFabrics     = "fabrics"
	CollectionPatterns    = "patterns"
	CollectionExhibitions = "exhibitions"
	CollectionPickups     = "pickups"
	CollectionLoans       = "loans"
)

// Meta — служебные поля любого документа.
// ID непрозрачен: hex ObjectID в MongoDB, nanoid в memory-хранилище.
// CreatedAt/UpdatedAt выставляет хранилище; UpdatedAt строго растёт при каждом обновлении.
type Meta struct {
	ID        string    `bson:"_id,omitempty" json:"id"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
	CreatedBy string    `bson:"created_by" json:"created_by"`
}

// Key возвращает идентификатор документа.
func (m Meta) Key() string { return m.ID }

// Image — загруженное изображение сущности.
// Path — ключ в объектном хранилище: <collection>/<entity id>/<uuid>.jpg.
type Image struct {
	Path        string `bson:"path" json:"path"`
	URL         string `bson:"url" json:"url"`
	BlurHash    string `bson:"blur_hash" json:"blur_hash"`
	ContentType string `bson:"content_type" json:"content_type"`
}

// Item — товар (изделие) коллекции.
type Item struct {
	Meta        `bson:",inline"`
	SKU         string   `bson:"sku" json:"sku" validate:"required,max=64"`
	Name        string   `bson:"name" json:"name" validate:"required,max=200"`
	Category    string   `bson:"category" json:"category"`
	Season      string   `bson:"season" json:"season"`
	Color       string   `bson:"color" json:"color"`
	Sizes       []string `bson:"sizes" json:"sizes"`
	Price       float64  `bson:"price" json:"price" validate:"gte=0"`
	Cost        float64  `bson:"cost" json:"cost" validate:"gte=0"`
	FabricIDs   []string `bson:"fabric_ids" json:"fabric_ids"`
	PatternID   string   `bson:"pattern_id" json:"pattern_id"`
	Status      string   `bson:"status" json:"status" validate:"omitempty,oneof=active archived"`
	Description string   `bson:"description" json:"description"`
	Images      []Image  `bson:"images" json:"images"`
}

// Fabric — ткань.
type Fabric struct {
	Meta         `bson:",inline"`
	Code         string  `bson:"code" json:"code" validate:"required,max=64"`
	Name         string  `bson:"name" json:"name" validate:"required,max=200"`
	Manufacturer string  `bson:"manufacturer" json:"manufacturer"`
	Composition  string  `bson:"composition" json:"composition"`
	Color        string  `bson:"color" json:"color"`
	WidthCM      float64 `bson:"width_cm" json:"width_cm" validate:"gte=0"`
	UnitPrice    float64 `bson:"unit_price" json:"unit_price" validate:"gte=0"`
	Status       string  `bson:"status" json:"status" validate:"omitempty,oneof=active archived"`
	Images       []Image `bson:"images" json:"images"`
}

// Pattern — лекало/выкройка.
type Pattern struct {
	Meta     `bson:",inline"`
	Code     string  `bson:"code" json:"code" validate:"required,max=64"`
	Name     string  `bson:"name" json:"name" validate:"required,max=200"`
	Category string  `bson:"category" json:"category"`
	Designer string  `bson:"designer" json:"designer"`
	Status   string  `bson:"status" json:"status" validate:"omitempty,oneof=active archived"`
	Notes    string  `bson:"notes" json:"notes"`
	Images   []Image `bson:"images" json:"images"`
}

// Exhibition — выставка и её каталог.
type Exhibition struct {
	Meta        `bson:",inline"`
	Code        string     `bson:"code" json:"code" validate:"required,max=32"`
	Name        string     `bson:"name" json:"name" validate:"required,max=200"`
	Venue       string     `bson:"venue" json:"venue"`
	StartDate   *time.Time `bson:"start_date" json:"start_date"`
	EndDate     *time.Time `bson:"end_date" json:"end_date"`
	ItemIDs     []string   `bson:"item_ids" json:"item_ids"`
	Status      string     `bson:"status" json:"status" validate:"omitempty,oneof=draft published archived"`
	PublishedAt *time.Time `bson:"published_at" json:"published_at"`
}

// Pickup — подборка (pickup list) для клиента выставки.
// ItemIDs — множество по смыслу: дубликаты не допускаются, порядок — порядок добавления.
type Pickup struct {
	Meta         `bson:",inline"`
	Code         string   `bson:"code" json:"code" validate:"required,max=64"`
	ExhibitionID string   `bson:"exhibition_id" json:"exhibition_id" validate:"required"`
	CustomerName string   `bson:"customer_name" json:"customer_name" validate:"max=200"`
	ItemIDs      []string `bson:"item_ids" json:"item_ids"`
	Status       string   `bson:"status" json:"status" validate:"omitempty,oneof=active archived"`
	ShareURL     string   `bson:"share_url" json:"share_url"`
}

// Loan — выдача образца (sample) во временное пользование.
type Loan struct {
	Meta       `bson:",inline"`
	ItemID     string     `bson:"item_id" json:"item_id" validate:"required"`
	Borrower   string     `bson:"borrower" json:"borrower" validate:"required,max=200"`
	Contact    string     `bson:"contact" json:"contact"`
	LoanedAt   time.Time  `bson:"loaned_at" json:"loaned_at"`
	DueAt      time.Time  `bson:"due_at" json:"due_at" validate:"required"`
	ReturnedAt *time.Time `bson:"returned_at" json:"returned_at"`
	Status     string     `bson:"status" json:"status" validate:"omitempty,oneof=on_loan returned"`
	Notes      string     `bson:"notes" json:"notes"`
}
