// Package cart хранит выбор покупателя до оформления и строит из него заказы продавцов.
package cart

import (
	"math"
	"slices"
	"sync"

	"github.com/vladislavdragonenkov/agromarket/internal/domain"
)

// FallbackSellerID — ключ группы для позиций без продавца.
const FallbackSellerID = "admin"

// LineItem позиция корзины.
type LineItem struct {
	ProductID      string
	Name           string
	UnitPriceMinor int64
	ImageRef       string
	SellerID       string
	Qty            int32
}

// SubtotalMinor возвращает price × qty или domain.ErrAmountOverflow.
func (li LineItem) SubtotalMinor() (int64, error) {
	return domain.MulMinor(li.UnitPriceMinor, li.Qty)
}

// ItemFromProduct строит позицию корзины из товара каталога.
func ItemFromProduct(p domain.Product) LineItem {
	return LineItem{
		ProductID:      p.ID,
		Name:           p.Name,
		UnitPriceMinor: p.PriceMinor,
		ImageRef:       p.ImageRef,
		SellerID:       p.SellerID,
	}
}

// Cart — упорядоченная коллекция позиций с уникальным ProductID.
// Итоги не хранятся, а вычисляются при чтении.
type Cart struct {
	mu    sync.RWMutex
	order []string
	items map[string]LineItem
}

// New создаёт пустую корзину.
func New() *Cart {
	return &Cart{items: make(map[string]LineItem)}
}

// Add добавляет товар. Если товар уже в корзине, увеличивает его количество.
// Верхняя граница по остатку здесь не проверяется, но количество позиции
// остаётся в int32, а итог корзины в int64.
func (c *Cart) Add(item LineItem, qty int32) error {
	if item.ProductID == "" {
		return domain.NewValidationError("product_id", "is required")
	}
	if qty <= 0 {
		return domain.ErrItemQtyInvalid
	}
	if item.UnitPriceMinor < 0 {
		return domain.ErrItemPriceInvalid
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	existing, merged := c.items[item.ProductID]
	if merged {
		if qty > math.MaxInt32-existing.Qty {
			return domain.NewValidationError("qty", "is too large")
		}
		existing.Qty += qty
		item = existing
	} else {
		item.Qty = qty
	}
	if _, err := c.totalWithLocked(item); err != nil {
		return err
	}

	c.items[item.ProductID] = item
	if !merged {
		c.order = append(c.order, item.ProductID)
	}
	return nil
}

// totalWithLocked считает итог корзины, подставляя candidate вместо
// позиции с тем же ProductID.
func (c *Cart) totalWithLocked(candidate LineItem) (int64, error) {
	total, err := candidate.SubtotalMinor()
	if err != nil {
		return 0, err
	}
	for id, li := range c.items {
		if id == candidate.ProductID {
			continue
		}
		subtotal, err := li.SubtotalMinor()
		if err != nil {
			return 0, err
		}
		if total, err = domain.AddMinor(total, subtotal); err != nil {
			return 0, err
		}
	}
	return total, nil
}

// Remove удаляет позицию; отсутствие позиции не ошибка.
func (c *Cart) Remove(productID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.items[productID]; !ok {
		return
	}
	delete(c.items, productID)
	for i, id := range c.order {
		if id == productID {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// Clear очищает корзину.
func (c *Cart) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]LineItem)
	c.order = nil
}

// Subtract снимает с корзины количества из снимка ordered. То, что
// добавили после снимка, остаётся в корзине.
func (c *Cart) Subtract(ordered []LineItem) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, li := range ordered {
		current, ok := c.items[li.ProductID]
		if !ok {
			continue
		}
		if current.Qty > li.Qty {
			current.Qty -= li.Qty
			c.items[li.ProductID] = current
			continue
		}
		delete(c.items, li.ProductID)
		c.order = slices.DeleteFunc(c.order, func(id string) bool { return id == li.ProductID })
	}
}

// Items возвращает копию позиций в порядке добавления.
func (c *Cart) Items() []LineItem {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]LineItem, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.items[id])
	}
	return out
}

// Total возвращает Σ price × qty. Add не пропускает позиции, на которых
// сумма переполнилась бы.
func (c *Cart) Total() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var total int64
	for _, item := range c.items {
		subtotal, _ := item.SubtotalMinor()
		total += subtotal
	}
	return total
}

// Count возвращает Σ qty.
func (c *Cart) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	count := 0
	for _, item := range c.items {
		count += int(item.Qty)
	}
	return count
}

// Empty сообщает, что в корзине нет позиций.
func (c *Cart) Empty() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items) == 0
}
