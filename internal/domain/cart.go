package domain

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// MaxSessionKeyLen matches the session key column width.
const MaxSessionKeyLen = 40

// Identity описывает вызывающего: пользователь и/или анонимная сессия
type Identity struct {
	UserID     int64
	SessionKey string
	Staff      bool
}

func (id Identity) Anonymous() bool { return id.UserID == 0 }

func (id Identity) Empty() bool { return id.UserID == 0 && id.SessionKey == "" }

// CartOwner владелец корзины: ровно одно из полей заполнено
type CartOwner struct {
	UserID     int64  `json:"user_id,omitempty"`
	SessionKey string `json:"session_key,omitempty"`
}

func UserOwner(userID int64) CartOwner { return CartOwner{UserID: userID} }

func SessionOwner(key string) CartOwner { return CartOwner{SessionKey: key} }

func (o CartOwner) Valid() bool {
	return (o.UserID != 0) != (o.SessionKey != "")
}

// LockKey is the key used to serialize work on one identity.
func (o CartOwner) LockKey() string {
	if o.UserID != 0 {
		return "user:" + strconv.FormatInt(o.UserID, 10)
	}
	return "session:" + o.SessionKey
}

// CartItem позиция корзины
type CartItem struct {
	ID        int64           `json:"id"`
	CartID    int64           `json:"cart_id"`
	ProductID int64           `json:"product_id"`
	Quantity  int64           `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	AddedAt   time.Time       `json:"added_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// SetQuantity updates quantity and recomputes the subtotal.
func (it *CartItem) SetQuantity(q int64) {
	it.Quantity = q
	it.Subtotal = it.UnitPrice.Mul(decimal.NewFromInt(q))
}

// Cart корзина пользователя или анонимной сессии
type Cart struct {
	ID        int64      `json:"id"`
	Owner     CartOwner  `json:"owner"`
	Active    bool       `json:"is_active"`
	Items     []CartItem `json:"items"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func (c Cart) TotalAmount() decimal.Decimal {
	total := decimal.Zero
	for _, it := range c.Items {
		total = total.Add(it.Subtotal)
	}
	return total
}

func (c Cart) TotalItems() int64 {
	var n int64
	for _, it := range c.Items {
		n += it.Quantity
	}
	return n
}

// Item returns the line for productID, if any.
func (c Cart) Item(productID int64) (CartItem, bool) {
	for _, it := range c.Items {
		if it.ProductID == productID {
			return it, true
		}
	}
	return CartItem{}, false
}
