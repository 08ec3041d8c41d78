package db

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"stopshop/models"
)

// MemoryStore keeps everything in process. Ids are sequential numbers.
type MemoryStore struct {
	mu     sync.Mutex
	nextID int
	now    func() time.Time

	cart   []models.CartItem
	orders []models.Order
	idem   map[string]string // userID + key -> order id
	users  map[string]models.User
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:   time.Now,
		idem:  make(map[string]string),
		users: make(map[string]models.User),
	}
}

func (m *MemoryStore) newID() models.FlexID {
	m.nextID++
	return models.FlexID(strconv.Itoa(m.nextID))
}

func (m *MemoryStore) ListCart(_ context.Context, userID string) ([]models.CartItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := []models.CartItem{}
	for _, it := range m.cart {
		if it.UserID == userID {
			items = append(items, it)
		}
	}
	return items, nil
}

func (m *MemoryStore) AddOrMerge(_ context.Context, item models.CartItem) (models.CartItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, it := range m.cart {
		if it.UserID == item.UserID && it.ProductID == item.ProductID && it.Color == item.Color {
			m.cart[i].Quantity += item.Quantity
			m.cart[i].Price = item.Price
			m.cart[i].ProductName = item.ProductName
			m.cart[i].ProductImage = item.ProductImage
			return m.cart[i], nil
		}
	}
	item.ID = m.newID()
	item.AddedAt = m.now()
	m.cart = append(m.cart, item)
	return item, nil
}

// findLocked returns the index of itemID, or ErrForbidden when it belongs
// to someone else.
func (m *MemoryStore) findLocked(userID, itemID string) (int, error) {
	for i, it := range m.cart {
		if it.ID.String() != itemID {
			continue
		}
		if it.UserID != userID {
			return -1, ErrForbidden
		}
		return i, nil
	}
	return -1, ErrNotFound
}

func (m *MemoryStore) UpdateQuantity(_ context.Context, userID, itemID string, quantity int) (models.CartItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, err := m.findLocked(userID, itemID)
	if err != nil {
		return models.CartItem{}, err
	}
	m.cart[i].Quantity = quantity
	return m.cart[i], nil
}

func (m *MemoryStore) RemoveItem(_ context.Context, userID, itemID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, err := m.findLocked(userID, itemID)
	if err != nil {
		return err
	}
	m.cart = append(m.cart[:i], m.cart[i+1:]...)
	return nil
}

func (m *MemoryStore) ClearCart(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.cart[:0]
	for _, it := range m.cart {
		if it.UserID != userID {
			kept = append(kept, it)
		}
	}
	m.cart = kept
	return nil
}

func (m *MemoryStore) CreateOrder(_ context.Context, order models.Order, idempotencyKey string) (models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if idempotencyKey != "" {
		if id, ok := m.idem[order.UserID+"\x00"+idempotencyKey]; ok {
			for _, o := range m.orders {
				if o.ID.String() == id {
					return o, nil
				}
			}
		}
	}
	order.ID = m.newID()
	order.CreatedAt = m.now()
	m.orders = append(m.orders, order)
	if idempotencyKey != "" {
		m.idem[order.UserID+"\x00"+idempotencyKey] = order.ID.String()
	}
	return order, nil
}

// ListOrders returns the user's orders, newest first.
func (m *MemoryStore) ListOrders(_ context.Context, userID string) ([]models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	orders := []models.Order{}
	for i := len(m.orders) - 1; i >= 0; i-- {
		if m.orders[i].UserID == userID {
			orders = append(orders, m.orders[i])
		}
	}
	return orders, nil
}

func (m *MemoryStore) GetOrder(_ context.Context, id string) (models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.ID.String() == id {
			return o, nil
		}
	}
	return models.Order{}, ErrNotFound
}

func (m *MemoryStore) SetOrderStatus(_ context.Context, id string, status models.OrderStatus) (models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, o := range m.orders {
		if o.ID.String() == id {
			m.orders[i].Status = status
			return m.orders[i], nil
		}
	}
	return models.Order{}, ErrNotFound
}

func (m *MemoryStore) CreateUser(_ context.Context, u models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := strings.ToLower(u.Email)
	if _, ok := m.users[key]; ok {
		return ErrConflict
	}
	for _, existing := range m.users {
		if existing.Username == u.Username {
			return ErrConflict
		}
	}
	m.users[key] = u
	return nil
}

func (m *MemoryStore) FindUserByEmail(_ context.Context, email string) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[strings.ToLower(email)]
	if !ok {
		return models.User{}, ErrNotFound
	}
	return u, nil
}

func (m *MemoryStore) TouchLogin(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, u := range m.users {
		if u.UserID == userID {
			u.LastLogin = m.now()
			m.users[k] = u
			return nil
		}
	}
	return ErrNotFound
}

// SetRoles replaces a user's roles. Used to seed admins.
func (m *MemoryStore) SetRoles(email string, roles ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := strings.ToLower(email)
	u, ok := m.users[key]
	if !ok {
		return ErrNotFound
	}
	u.Role = roles
	m.users[key] = u
	return nil
}

func (m *MemoryStore) Close(context.Context) error { return nil }
