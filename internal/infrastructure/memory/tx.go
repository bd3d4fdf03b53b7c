package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cleanandflip/marketplace/internal/domain/cart"
	"github.com/cleanandflip/marketplace/internal/domain/commerce"
	"github.com/cleanandflip/marketplace/internal/domain/inventory"
	"github.com/cleanandflip/marketplace/internal/domain/order"
)

type lockTable struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]chan struct{})}
}

func (lt *lockTable) slot(key string) chan struct{} {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	ch, ok := lt.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		lt.locks[key] = ch
	}
	return ch
}

func (lt *lockTable) acquire(ctx context.Context, key string, timeout time.Duration) error {
	ch := lt.slot(key)
	select {
	case ch <- struct{}{}:
		return nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return commerce.Aborted(fmt.Errorf("lock %s not acquired within %s", key, timeout))
	}
}

func (lt *lockTable) release(key string) {
	<-lt.slot(key)
}

// Tx is one unit of work against the Store. Locks are held until the transaction ends;
// writes are applied immediately and undone in reverse order on rollback.
type Tx struct {
	ctx   context.Context
	store *Store
	held  map[string]struct{}
	order []string
	undo  []func()
}

func (s *Store) withTx(ctx context.Context, fn func(tx *Tx) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &Tx{ctx: ctx, store: s, held: make(map[string]struct{})}
	defer func() {
		if p := recover(); p != nil {
			tx.rollback()
			tx.releaseAll()
			panic(p)
		}
	}()

	if err = fn(tx); err != nil {
		tx.rollback()
	}
	tx.releaseAll()
	return err
}

func (tx *Tx) holds(key string) bool {
	_, ok := tx.held[key]
	return ok
}

func (tx *Tx) lock(key string) error {
	if tx.holds(key) {
		return nil
	}
	if err := tx.store.locks.acquire(tx.ctx, key, tx.store.lockTimeout); err != nil {
		return err
	}
	tx.held[key] = struct{}{}
	tx.order = append(tx.order, key)
	return nil
}

// unlock releases a lock before the transaction ends. Only valid for keys nothing was written under.
func (tx *Tx) unlock(key string) {
	if !tx.holds(key) {
		return
	}
	delete(tx.held, key)
	for i, k := range tx.order {
		if k == key {
			tx.order = append(tx.order[:i], tx.order[i+1:]...)
			break
		}
	}
	tx.store.locks.release(key)
}

func (tx *Tx) releaseAll() {
	for i := len(tx.order) - 1; i >= 0; i-- {
		tx.store.locks.release(tx.order[i])
	}
	tx.order = nil
	tx.held = nil
}

func (tx *Tx) rollback() {
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
}

func (tx *Tx) putProduct(p inventory.Product) {
	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, existed := s.products[p.ID]
	s.products[p.ID] = &p
	tx.undo = append(tx.undo, func() {
		if existed {
			s.products[p.ID] = prev
		} else {
			delete(s.products, p.ID)
		}
	})
}

func (tx *Tx) deleteProduct(productID string) {
	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, existed := s.products[productID]
	if !existed {
		return
	}
	delete(s.products, productID)
	tx.undo = append(tx.undo, func() { s.products[productID] = prev })
}

func (tx *Tx) putItem(it cart.Item) {
	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, existed := s.items[it.ID]
	row := &cartRow{item: it}
	if existed {
		row.seq = prev.seq
	} else {
		s.seq++
		row.seq = s.seq
	}
	s.items[it.ID] = row
	tx.undo = append(tx.undo, func() {
		if existed {
			s.items[it.ID] = prev
		} else {
			delete(s.items, it.ID)
		}
	})
}

func (tx *Tx) deleteItem(itemID string) {
	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, existed := s.items[itemID]
	if !existed {
		return
	}
	delete(s.items, itemID)
	tx.undo = append(tx.undo, func() { s.items[itemID] = prev })
}

func (tx *Tx) putOrder(o *order.Order) {
	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.ID] = cloneOrder(o)
	tx.undo = append(tx.undo, func() { delete(s.orders, o.ID) })
}
