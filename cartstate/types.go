// Package cartstate holds the local cart model and the pure reducer that
// evolves it. Nothing in this package performs I/O.
package cartstate

// DefaultMaxQuantity is the ceiling applied to lines whose stock is unknown,
// such as lines first seen in a server response.
const DefaultMaxQuantity = 10

// DefaultShippingFee is the flat shipping fee in cents.
const DefaultShippingFee int64 = 5000

// Line is one product+variant entry in the cart.
type Line struct {
	ProductID    string `json:"productId"`
	VariantKey   string `json:"variantKey"`
	DisplayName  string `json:"displayName"`
	ImageURL     string `json:"imageUrl"`
	UnitPrice    int64  `json:"unitPrice"` // cents
	Quantity     int    `json:"quantity"`
	MaxQuantity  int    `json:"maxQuantity"`
	RemoteLineID string `json:"remoteLineId,omitempty"`
}

// Key is the local identity of a line: product and variant.
func (l Line) Key() string {
	return LineKey(l.ProductID, l.VariantKey)
}

// LineKey builds the identity used for local merges.
func LineKey(productID, variantKey string) string {
	return productID + ":" + variantKey
}

// Matches reports whether ref names this line, either by its server id or
// by its local key.
func (l Line) Matches(ref string) bool {
	if ref == "" {
		return false
	}
	if l.RemoteLineID != "" && l.RemoteLineID == ref {
		return true
	}
	return l.Key() == ref
}

// Ref returns the server id when known and the local key otherwise.
func (l Line) Ref() string {
	if l.RemoteLineID != "" {
		return l.RemoteLineID
	}
	return l.Key()
}

// Subtotal is unit price times quantity.
func (l Line) Subtotal() int64 {
	return l.UnitPrice * int64(l.Quantity)
}

// State is the cart aggregate for one session.
type State struct {
	Lines         []Line `json:"lines"`
	TotalQuantity int    `json:"totalQuantity"`
	TotalAmount   int64  `json:"totalAmount"`
	ShippingFee   int64  `json:"shippingFee"`
	IsSyncing     bool   `json:"isSyncing"`
	LastError     string `json:"lastError,omitempty"`
}

// Empty returns the state used for anonymous sessions.
func Empty(shippingFee int64) State {
	return State{Lines: []Line{}, ShippingFee: shippingFee}
}

// Find returns the line matching ref.
func (s State) Find(ref string) (Line, bool) {
	for _, l := range s.Lines {
		if l.Matches(ref) {
			return l, true
		}
	}
	return Line{}, false
}

// FindByKey returns the line with the given product and variant.
func (s State) FindByKey(productID, variantKey string) (Line, bool) {
	key := LineKey(productID, variantKey)
	for _, l := range s.Lines {
		if l.Key() == key {
			return l, true
		}
	}
	return Line{}, false
}

// OrderTotal is the cart total including shipping. An empty cart owes nothing.
func (s State) OrderTotal() int64 {
	if len(s.Lines) == 0 {
		return 0
	}
	return s.TotalAmount + s.ShippingFee
}

// Clone returns a copy that shares no slice memory with s.
func (s State) Clone() State {
	out := s
	out.Lines = make([]Line, len(s.Lines))
	copy(out.Lines, s.Lines)
	return out
}
