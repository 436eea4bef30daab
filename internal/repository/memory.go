package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"storefront/internal/domain"
)

// memoryState всё содержимое in-memory хранилища; копируется целиком для отката транзакции
type memoryState struct {
	seq          map[string]int64
	productsByID map[int64]domain.Product
	cartsByID    map[int64]domain.Cart
	cartItems    map[int64]domain.CartItem
	ordersByID   map[int64]domain.Order
	paymentsByID map[int64]domain.Payment
	paymentTxs   []domain.PaymentTransaction
	outbox       []domain.OutboxEvent
}

func newMemoryState() *memoryState {
	return &memoryState{
		seq:          make(map[string]int64),
		productsByID: make(map[int64]domain.Product),
		cartsByID:    make(map[int64]domain.Cart),
		cartItems:    make(map[int64]domain.CartItem),
		ordersByID:   make(map[int64]domain.Order),
		paymentsByID: make(map[int64]domain.Payment),
	}
}

// clone is shallow per value: stored values are replaced, never mutated in place.
func (s *memoryState) clone() *memoryState {
	c := newMemoryState()
	for k, v := range s.seq {
		c.seq[k] = v
	}
	for k, v := range s.productsByID {
		c.productsByID[k] = v
	}
	for k, v := range s.cartsByID {
		c.cartsByID[k] = v
	}
	for k, v := range s.cartItems {
		c.cartItems[k] = v
	}
	for k, v := range s.ordersByID {
		c.ordersByID[k] = v
	}
	for k, v := range s.paymentsByID {
		c.paymentsByID[k] = v
	}
	c.paymentTxs = append([]domain.PaymentTransaction(nil), s.paymentTxs...)
	c.outbox = append([]domain.OutboxEvent(nil), s.outbox...)
	return c
}

func (s *memoryState) nextID(name string) int64 {
	s.seq[name]++
	return s.seq[name]
}

// MemoryStore объединённое in-memory хранилище и простой генератор ID
type MemoryStore struct {
	mu    sync.RWMutex
	state *memoryState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemoryState()}
}

// NewMemory собирает Store поверх одного MemoryStore
func NewMemory() *Store {
	m := NewMemoryStore()
	return &Store{
		Products: m,
		Carts:    NewMemoryCarts(m),
		Orders:   NewMemoryOrders(m),
		Payments: NewMemoryPayments(m),
		Outbox:   NewMemoryOutbox(m),
		Tx:       NewMemoryTx(m),
	}
}

// transaction-aware locking helpers
type txKey struct{}

func isTx(ctx context.Context) bool {
	v := ctx.Value(txKey{})
	if v == nil {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

func (m *MemoryStore) rlock(ctx context.Context) {
	if !isTx(ctx) {
		m.mu.RLock()
	}
}
func (m *MemoryStore) runlock(ctx context.Context) {
	if !isTx(ctx) {
		m.mu.RUnlock()
	}
}
func (m *MemoryStore) wlock(ctx context.Context) {
	if !isTx(ctx) {
		m.mu.Lock()
	}
}
func (m *MemoryStore) wunlock(ctx context.Context) {
	if !isTx(ctx) {
		m.mu.Unlock()
	}
}

func now() time.Time { return time.Now().UTC() }

// Ensure interfaces
var (
	_ ProductRepository = (*MemoryStore)(nil)
	_ CartRepository    = (*MemoryCarts)(nil)
	_ OrderRepository   = (*MemoryOrders)(nil)
	_ PaymentRepository = (*MemoryPayments)(nil)
	_ OutboxRepository  = (*MemoryOutbox)(nil)
	_ TxManager         = (*MemoryTx)(nil)
)

// ProductRepository implementation
func (m *MemoryStore) Create(ctx context.Context, p *domain.Product) error {
	m.wlock(ctx)
	defer m.wunlock(ctx)
	for _, existing := range m.state.productsByID {
		if existing.SKU == p.SKU {
			return ErrDuplicate
		}
	}
	p.ID = m.state.nextID("products")
	p.CreatedAt = now()
	p.UpdatedAt = p.CreatedAt
	m.state.productsByID[p.ID] = *p
	return nil
}

func (m *MemoryStore) GetByID(ctx context.Context, id int64) (*domain.Product, error) {
	m.rlock(ctx)
	defer m.runlock(ctx)
	p, ok := m.state.productsByID[id]
	if !ok {
		return nil, ErrNotFound
	}
	// return copy
	cp := p
	return &cp, nil
}

// GetForUpdate: inside MemoryTx the whole store is already write-locked.
func (m *MemoryStore) GetForUpdate(ctx context.Context, id int64) (*domain.Product, error) {
	return m.GetByID(ctx, id)
}

func (m *MemoryStore) Update(ctx context.Context, p *domain.Product) error {
	m.wlock(ctx)
	defer m.wunlock(ctx)
	old, ok := m.state.productsByID[p.ID]
	if !ok {
		return ErrNotFound
	}
	p.CreatedAt = old.CreatedAt
	p.UpdatedAt = now()
	m.state.productsByID[p.ID] = *p
	return nil
}

func (m *MemoryStore) List(ctx context.Context, f ProductFilter) ([]domain.Product, error) {
	m.rlock(ctx)
	defer m.runlock(ctx)
	out := make([]domain.Product, 0, len(m.state.productsByID))
	for _, p := range m.state.productsByID {
		if f.ActiveOnly && !p.Active {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) AdjustStock(ctx context.Context, id int64, delta int64) error {
	m.wlock(ctx)
	defer m.wunlock(ctx)
	p, ok := m.state.productsByID[id]
	if !ok {
		return ErrNotFound
	}
	if p.Stock+delta < 0 {
		return domain.InsufficientStock(p, -delta)
	}
	p.Stock += delta
	p.UpdatedAt = now()
	m.state.productsByID[id] = p
	return nil
}

// MemoryCarts CartRepository поверх MemoryStore
type MemoryCarts struct{ store *MemoryStore }

func NewMemoryCarts(store *MemoryStore) *MemoryCarts { return &MemoryCarts{store: store} }

func (mc *MemoryCarts) activeOwnerTaken(c *domain.Cart) bool {
	if !c.Active {
		return false
	}
	for _, other := range mc.store.state.cartsByID {
		if other.ID != c.ID && other.Active && other.Owner == c.Owner {
			return true
		}
	}
	return false
}

func (mc *MemoryCarts) FindActive(ctx context.Context, owner domain.CartOwner) (*domain.Cart, error) {
	mc.store.rlock(ctx)
	defer mc.store.runlock(ctx)
	for _, c := range mc.store.state.cartsByID {
		if c.Active && c.Owner == owner {
			cp := c
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (mc *MemoryCarts) Create(ctx context.Context, c *domain.Cart) error {
	mc.store.wlock(ctx)
	defer mc.store.wunlock(ctx)
	if mc.activeOwnerTaken(c) {
		return ErrDuplicate
	}
	c.ID = mc.store.state.nextID("carts")
	c.CreatedAt = now()
	c.UpdatedAt = c.CreatedAt
	stored := *c
	stored.Items = nil
	mc.store.state.cartsByID[c.ID] = stored
	return nil
}

func (mc *MemoryCarts) Lock(ctx context.Context, id int64) (*domain.Cart, error) {
	mc.store.rlock(ctx)
	defer mc.store.runlock(ctx)
	c, ok := mc.store.state.cartsByID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := c
	return &cp, nil
}

func (mc *MemoryCarts) Update(ctx context.Context, c *domain.Cart) error {
	mc.store.wlock(ctx)
	defer mc.store.wunlock(ctx)
	old, ok := mc.store.state.cartsByID[c.ID]
	if !ok {
		return ErrNotFound
	}
	if mc.activeOwnerTaken(c) {
		return ErrDuplicate
	}
	c.CreatedAt = old.CreatedAt
	c.UpdatedAt = now()
	stored := *c
	stored.Items = nil
	mc.store.state.cartsByID[c.ID] = stored
	return nil
}

func (mc *MemoryCarts) Items(ctx context.Context, cartID int64) ([]domain.CartItem, error) {
	mc.store.rlock(ctx)
	defer mc.store.runlock(ctx)
	out := make([]domain.CartItem, 0)
	for _, it := range mc.store.state.cartItems {
		if it.CartID == cartID {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (mc *MemoryCarts) findItem(cartID, productID int64) (domain.CartItem, bool) {
	for _, it := range mc.store.state.cartItems {
		if it.CartID == cartID && it.ProductID == productID {
			return it, true
		}
	}
	return domain.CartItem{}, false
}

func (mc *MemoryCarts) SaveItem(ctx context.Context, it *domain.CartItem) error {
	mc.store.wlock(ctx)
	defer mc.store.wunlock(ctx)
	if _, ok := mc.store.state.cartsByID[it.CartID]; !ok {
		return ErrNotFound
	}
	ts := now()
	if it.ID == 0 {
		if _, exists := mc.findItem(it.CartID, it.ProductID); exists {
			return ErrDuplicate
		}
		it.ID = mc.store.state.nextID("cart_items")
		it.AddedAt = ts
	} else if _, ok := mc.store.state.cartItems[it.ID]; !ok {
		return ErrNotFound
	}
	it.UpdatedAt = ts
	mc.store.state.cartItems[it.ID] = *it
	return nil
}

func (mc *MemoryCarts) DeleteItem(ctx context.Context, cartID, productID int64) error {
	mc.store.wlock(ctx)
	defer mc.store.wunlock(ctx)
	it, ok := mc.findItem(cartID, productID)
	if !ok {
		return ErrNotFound
	}
	delete(mc.store.state.cartItems, it.ID)
	return nil
}

func (mc *MemoryCarts) ClearItems(ctx context.Context, cartID int64) error {
	mc.store.wlock(ctx)
	defer mc.store.wunlock(ctx)
	for id, it := range mc.store.state.cartItems {
		if it.CartID == cartID {
			delete(mc.store.state.cartItems, id)
		}
	}
	return nil
}

// OrderRepository implementation on wrapper type
type MemoryOrders struct{ store *MemoryStore }

func NewMemoryOrders(store *MemoryStore) *MemoryOrders { return &MemoryOrders{store: store} }

func copyOrder(o domain.Order) *domain.Order {
	cp := o
	cp.Items = append([]domain.OrderItem(nil), o.Items...)
	return &cp
}

func (mo *MemoryOrders) Create(ctx context.Context, o *domain.Order) error {
	mo.store.wlock(ctx)
	defer mo.store.wunlock(ctx)
	for _, existing := range mo.store.state.ordersByID {
		if existing.OrderNumber == o.OrderNumber {
			return ErrDuplicate
		}
	}
	o.ID = mo.store.state.nextID("orders")
	for i := range o.Items {
		o.Items[i].ID = mo.store.state.nextID("order_items")
	}
	o.CreatedAt = now()
	o.UpdatedAt = o.CreatedAt
	mo.store.state.ordersByID[o.ID] = *copyOrder(*o)
	return nil
}

func (mo *MemoryOrders) GetByID(ctx context.Context, id int64) (*domain.Order, error) {
	mo.store.rlock(ctx)
	defer mo.store.runlock(ctx)
	o, ok := mo.store.state.ordersByID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyOrder(o), nil
}

func (mo *MemoryOrders) GetForUpdate(ctx context.Context, id int64) (*domain.Order, error) {
	return mo.GetByID(ctx, id)
}

func (mo *MemoryOrders) List(ctx context.Context, f OrderFilter) ([]domain.Order, error) {
	mo.store.rlock(ctx)
	defer mo.store.runlock(ctx)
	out := make([]domain.Order, 0)
	for _, o := range mo.store.state.ordersByID {
		if f.UserID != 0 && o.UserID != f.UserID {
			continue
		}
		out = append(out, *copyOrder(o))
	}
	// newest first
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (mo *MemoryOrders) UpdateStatus(ctx context.Context, o *domain.Order) error {
	mo.store.wlock(ctx)
	defer mo.store.wunlock(ctx)
	stored, ok := mo.store.state.ordersByID[o.ID]
	if !ok {
		return ErrNotFound
	}
	stored.Status = o.Status
	stored.UpdatedAt = now()
	o.UpdatedAt = stored.UpdatedAt
	mo.store.state.ordersByID[o.ID] = stored
	return nil
}

func (mo *MemoryOrders) Stats(ctx context.Context) (domain.OrderStats, error) {
	mo.store.rlock(ctx)
	defer mo.store.runlock(ctx)
	st := domain.OrderStats{TotalSales: decimal.Zero, ByStatus: make(map[domain.OrderStatus]int64)}
	for _, o := range mo.store.state.ordersByID {
		st.TotalOrders++
		st.TotalSales = st.TotalSales.Add(o.TotalAmount)
		st.ByStatus[o.Status]++
	}
	return st, nil
}

// MemoryPayments PaymentRepository поверх MemoryStore
type MemoryPayments struct{ store *MemoryStore }

func NewMemoryPayments(store *MemoryStore) *MemoryPayments { return &MemoryPayments{store: store} }

func (mp *MemoryPayments) Create(ctx context.Context, p *domain.Payment) error {
	mp.store.wlock(ctx)
	defer mp.store.wunlock(ctx)
	for _, existing := range mp.store.state.paymentsByID {
		if existing.OrderID == p.OrderID {
			return ErrDuplicate
		}
	}
	p.ID = mp.store.state.nextID("payments")
	mp.store.state.paymentsByID[p.ID] = *p
	return nil
}

func (mp *MemoryPayments) GetByID(ctx context.Context, id int64) (*domain.Payment, error) {
	mp.store.rlock(ctx)
	defer mp.store.runlock(ctx)
	p, ok := mp.store.state.paymentsByID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := p
	return &cp, nil
}

func (mp *MemoryPayments) GetForUpdate(ctx context.Context, id int64) (*domain.Payment, error) {
	return mp.GetByID(ctx, id)
}

func (mp *MemoryPayments) GetByOrderID(ctx context.Context, orderID int64) (*domain.Payment, error) {
	mp.store.rlock(ctx)
	defer mp.store.runlock(ctx)
	for _, p := range mp.store.state.paymentsByID {
		if p.OrderID == orderID {
			cp := p
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (mp *MemoryPayments) Update(ctx context.Context, p *domain.Payment) error {
	mp.store.wlock(ctx)
	defer mp.store.wunlock(ctx)
	if _, ok := mp.store.state.paymentsByID[p.ID]; !ok {
		return ErrNotFound
	}
	mp.store.state.paymentsByID[p.ID] = *p
	return nil
}

func (mp *MemoryPayments) AppendTransaction(ctx context.Context, t *domain.PaymentTransaction) error {
	mp.store.wlock(ctx)
	defer mp.store.wunlock(ctx)
	if _, ok := mp.store.state.paymentsByID[t.PaymentID]; !ok {
		return ErrNotFound
	}
	t.ID = mp.store.state.nextID("payment_transactions")
	mp.store.state.paymentTxs = append(mp.store.state.paymentTxs, *t)
	return nil
}

func (mp *MemoryPayments) ListTransactions(ctx context.Context, paymentID int64) ([]domain.PaymentTransaction, error) {
	mp.store.rlock(ctx)
	defer mp.store.runlock(ctx)
	out := make([]domain.PaymentTransaction, 0)
	for _, t := range mp.store.state.paymentTxs {
		if t.PaymentID == paymentID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (mp *MemoryPayments) Stats(ctx context.Context) (domain.PaymentStats, error) {
	mp.store.rlock(ctx)
	defer mp.store.runlock(ctx)
	st := domain.PaymentStats{TotalAmount: decimal.Zero, ByStatus: make(map[domain.PaymentStatus]int64)}
	for _, p := range mp.store.state.paymentsByID {
		st.TotalPayments++
		st.TotalAmount = st.TotalAmount.Add(p.Amount)
		st.ByStatus[p.Status]++
	}
	st.SuccessRate = successRate(st)
	return st, nil
}

func successRate(st domain.PaymentStats) float64 {
	if st.TotalPayments == 0 {
		return 0
	}
	var captured int64
	for s, n := range st.ByStatus {
		if s.Captured() {
			captured += n
		}
	}
	return float64(captured) / float64(st.TotalPayments) * 100
}

// MemoryOutbox OutboxRepository поверх MemoryStore
type MemoryOutbox struct{ store *MemoryStore }

func NewMemoryOutbox(store *MemoryStore) *MemoryOutbox { return &MemoryOutbox{store: store} }

func (mo *MemoryOutbox) Append(ctx context.Context, ev *domain.OutboxEvent) error {
	mo.store.wlock(ctx)
	defer mo.store.wunlock(ctx)
	ev.ID = mo.store.state.nextID("outbox")
	ev.CreatedAt = now()
	mo.store.state.outbox = append(mo.store.state.outbox, *ev)
	return nil
}

func (mo *MemoryOutbox) FetchPending(ctx context.Context, limit int) ([]domain.OutboxEvent, error) {
	mo.store.rlock(ctx)
	defer mo.store.runlock(ctx)
	out := make([]domain.OutboxEvent, 0)
	for _, ev := range mo.store.state.outbox {
		if ev.SentAt != nil {
			continue
		}
		out = append(out, ev)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (mo *MemoryOutbox) MarkSent(ctx context.Context, id int64) error {
	mo.store.wlock(ctx)
	defer mo.store.wunlock(ctx)
	for i, ev := range mo.store.state.outbox {
		if ev.ID == id {
			ts := now()
			ev.SentAt = &ts
			mo.store.state.outbox[i] = ev
			return nil
		}
	}
	return ErrNotFound
}

// Tx manager using write lock to emulate transaction boundary
type MemoryTx struct{ store *MemoryStore }

func NewMemoryTx(store *MemoryStore) *MemoryTx { return &MemoryTx{store: store} }

func (tx *MemoryTx) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if isTx(ctx) {
		return fn(ctx)
	}
	// Для in-memory используем блокировку записи и помечаем контекст, чтобы репозитории пропускали внутренние локи.
	// Откат: восстановление снимка состояния.
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	snapshot := tx.store.state.clone()
	defer func() {
		if r := recover(); r != nil {
			tx.store.state = snapshot
			panic(r)
		}
		if err != nil {
			tx.store.state = snapshot
		}
	}()
	return fn(context.WithValue(ctx, txKey{}, true))
}
