package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cleanandflip/marketplace/internal/domain/cart"
	"github.com/cleanandflip/marketplace/internal/domain/commerce"
	"github.com/cleanandflip/marketplace/internal/domain/inventory"
	"github.com/cleanandflip/marketplace/internal/domain/order"
	"github.com/cleanandflip/marketplace/internal/infrastructure/id"
)

const defaultLockTimeout = 2 * time.Second

// Store is an in-process transactional store. Writers take per-row locks that are held until
// their transaction ends; a lock that cannot be acquired within the lock timeout aborts the
// transaction, which is how deadlocks between concurrent checkouts surface.
type Store struct {
	mu       sync.RWMutex
	products map[string]*inventory.Product
	items    map[string]*cartRow
	orders   map[string]*order.Order
	seq      uint64

	locks       *lockTable
	lockTimeout time.Duration
	ids         id.Generator
}

type cartRow struct {
	item cart.Item
	seq  uint64
}

type Option func(*Store)

func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.lockTimeout = d
		}
	}
}

func WithIDGenerator(g id.Generator) Option {
	return func(s *Store) { s.ids = id.OrDefault(g) }
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		products:    make(map[string]*inventory.Product),
		items:       make(map[string]*cartRow),
		orders:      make(map[string]*order.Order),
		locks:       newLockTable(),
		lockTimeout: defaultLockTimeout,
		ids:         id.UUID{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PutProduct inserts or replaces a catalog row. It stands in for catalog management.
func (s *Store) PutProduct(ctx context.Context, p inventory.Product) error {
	if p.ID == "" {
		return commerce.Invalid("product id is required")
	}
	if p.StockQuantity < 0 {
		return commerce.Invalid("stock quantity must not be negative, got %d", p.StockQuantity)
	}
	if p.Status == "" {
		p.Status = inventory.StatusActive
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}
	return s.withTx(ctx, func(tx *Tx) error {
		if err := tx.lock(productKey(p.ID)); err != nil {
			return err
		}
		tx.putProduct(p)
		return nil
	})
}

// DeleteProduct removes a catalog row together with every cart row that references it.
func (s *Store) DeleteProduct(ctx context.Context, productID string) error {
	return s.withTx(ctx, func(tx *Tx) error {
		if err := tx.lock(productKey(productID)); err != nil {
			return err
		}
		if _, ok := s.product(productID); !ok {
			return commerce.NotFound("product", productID)
		}
		for _, it := range s.itemsForProduct(productID) {
			if err := tx.lock(cartKey(it.Owner, productID)); err != nil {
				return err
			}
			tx.deleteItem(it.ID)
		}
		tx.deleteProduct(productID)
		return nil
	})
}

// Product returns a copy of the catalog row.
func (s *Store) Product(productID string) (inventory.Product, bool) {
	return s.product(productID)
}

// Order returns a copy of a committed order.
func (s *Store) Order(orderID string) (*order.Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[orderID]
	if !ok {
		return nil, false
	}
	return cloneOrder(o), true
}

func (s *Store) OrderCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.orders)
}

// Items returns every cart row owned by owner, oldest first.
func (s *Store) Items(owner cart.Owner) []cart.Item {
	return s.itemsFor(owner)
}

func (s *Store) product(productID string) (inventory.Product, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[productID]
	if !ok {
		return inventory.Product{}, false
	}
	return *p, true
}

func (s *Store) itemsFor(owner cart.Owner) []cart.Item {
	return s.selectItems(func(it cart.Item) bool { return it.Owner == owner })
}

func (s *Store) itemsForProduct(productID string) []cart.Item {
	return s.selectItems(func(it cart.Item) bool { return it.ProductID == productID })
}

func (s *Store) selectItems(match func(cart.Item) bool) []cart.Item {
	s.mu.RLock()
	rows := make([]*cartRow, 0)
	for _, r := range s.items {
		if match(r.item) {
			rows = append(rows, r)
		}
	}
	s.mu.RUnlock()

	sort.Slice(rows, func(i, j int) bool { return rows[i].seq < rows[j].seq })
	out := make([]cart.Item, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.item)
	}
	return out
}

func (s *Store) item(itemID string) (cart.Item, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.items[itemID]
	if !ok {
		return cart.Item{}, false
	}
	return r.item, true
}

func cloneOrder(o *order.Order) *order.Order {
	if o == nil {
		return nil
	}
	clone := *o
	clone.Items = append([]order.Item(nil), o.Items...)
	return &clone
}

func productKey(productID string) string { return "product:" + productID }

func cartKey(owner cart.Owner, productID string) string {
	return fmt.Sprintf("cart:%s:%s", owner.Key(), productID)
}
