package domain

import (
	"strings"
	"time"
)

// Category — категория товара в каталоге.
type Category string

const (
	CategoryVegetables Category = "Verduras"
	CategoryFruits     Category = "Frutas"
	CategoryDairy      Category = "Lácteos"
	CategoryGrains     Category = "Granos"
)

// Categories возвращает категории в порядке показа.
func Categories() []Category {
	return []Category{CategoryVegetables, CategoryFruits, CategoryDairy, CategoryGrains}
}

// Valid проверяет, что категория поддерживается.
func (c Category) Valid() bool {
	for _, known := range Categories() {
		if c == known {
			return true
		}
	}
	return false
}

// Unit — единица продажи.
type Unit string

const (
	UnitKilogram Unit = "kg"
	UnitPiece    Unit = "unidad"
	UnitLiter    Unit = "litro"
	UnitSack     Unit = "saco"
)

// Units возвращает поддерживаемые единицы продажи.
func Units() []Unit {
	return []Unit{UnitKilogram, UnitPiece, UnitLiter, UnitSack}
}

// Valid проверяет, что единица поддерживается.
func (u Unit) Valid() bool {
	for _, known := range Units() {
		if u == known {
			return true
		}
	}
	return false
}

// Product — товар продавца. Покупателям виден только при Stock > 0.
type Product struct {
	ID          string
	SellerID    string
	Name        string
	PriceMinor  int64
	Description string
	ImageRef    string
	Stock       int32
	Category    Category
	Unit        Unit
	SearchKey   string
	Version     int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Available сообщает, можно ли показывать товар покупателям.
func (p Product) Available() bool {
	return p.Stock > 0
}

// SearchKeyFor строит ключ поиска по названию товара.
func SearchKeyFor(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
