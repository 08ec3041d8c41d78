package transport

import (
	"context"
	"net/http"
	"net/url"

	"stopshop/models"
)

// AddLineRequest carries the snapshot sent when adding a product.
type AddLineRequest struct {
	ProductID  string
	VariantKey string
	Quantity   int
	Price      int64
	Name       string
	Image      string
}

// FetchCart returns the server's cart lines for the current user.
func (c *Client) FetchCart(ctx context.Context) ([]models.CartItem, error) {
	var items []models.CartItem
	err := c.do(ctx, request{
		op:     "fetch cart",
		method: http.MethodGet,
		path:   "/api/cart/my",
		auth:   true,
		out:    &items,
	})
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []models.CartItem{}
	}
	return items, nil
}

// AddLine persists a line and returns its server id.
func (c *Client) AddLine(ctx context.Context, in AddLineRequest) (string, error) {
	var created models.CartItem
	err := c.do(ctx, request{
		op:     "add line",
		method: http.MethodPost,
		path:   "/api/cart/add",
		auth:   true,
		body: models.AddToCartRequest{
			ProductID:    in.ProductID,
			ProductName:  in.Name,
			ProductImage: in.Image,
			Color:        in.VariantKey,
			Quantity:     in.Quantity,
			Price:        in.Price,
		},
		out: &created,
	})
	if err != nil {
		return "", err
	}
	return created.ID.String(), nil
}

// UpdateQuantity sets the quantity of a persisted line.
func (c *Client) UpdateQuantity(ctx context.Context, remoteLineID string, quantity int) error {
	return c.do(ctx, request{
		op:     "update quantity",
		method: http.MethodPut,
		path:   "/api/cart/update-quantity",
		auth:   true,
		body:   models.UpdateQuantityRequest{CartItemID: models.FlexID(remoteLineID), Quantity: quantity},
	})
}

// RemoveLine deletes a persisted line. A line that is already gone counts
// as removed.
func (c *Client) RemoveLine(ctx context.Context, remoteLineID string) error {
	return c.do(ctx, request{
		op:        "remove line",
		method:    http.MethodDelete,
		path:      pathf("/api/cart/remove/%s", url.PathEscape(remoteLineID)),
		auth:      true,
		accept404: true,
	})
}

// ClearAll deletes every line in the user's cart.
func (c *Client) ClearAll(ctx context.Context) error {
	return c.do(ctx, request{
		op:     "clear cart",
		method: http.MethodDelete,
		path:   "/api/cart/clear",
		auth:   true,
	})
}

// CheckAuth asks the service whether it accepts the current token.
func (c *Client) CheckAuth(ctx context.Context) (bool, error) {
	var out struct {
		Authenticated bool `json:"authenticated"`
	}
	err := c.do(ctx, request{
		op:     "check auth",
		method: http.MethodGet,
		path:   "/api/cart/test",
		auth:   true,
		out:    &out,
	})
	if err != nil {
		return false, err
	}
	return out.Authenticated, nil
}
