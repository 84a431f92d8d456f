package order

import (
	"fmt"
	"math"
	"time"
)

type Item struct {
	ProductID string  `json:"productId"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price"`
	Discount  float64 `json:"discount"`
}

// Order is the payment-service view of an order awaiting payment.
type Order struct {
	ID          string    `json:"orderId"`
	UserID      string    `json:"userId"`
	Items       []Item    `json:"items"`
	ShippingFee float64   `json:"shippingFee"`
	Discount    float64   `json:"discount"`
	TotalAmount float64   `json:"totalAmount"`
	Currency    string    `json:"currency"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
}

// ComputedTotal derives the payable amount from the line items, shipping fee
// and order-level discount.
func (o *Order) ComputedTotal() float64 {
	var total float64
	for _, it := range o.Items {
		total += float64(it.Quantity)*it.Price - it.Discount
	}
	return total + o.ShippingFee - o.Discount
}

// ValidateTotal checks the payable-amount invariant: the stored total must
// equal the derived total (within a cent, amounts being floats on the wire).
func (o *Order) ValidateTotal() error {
	if len(o.Items) == 0 {
		return nil
	}
	if math.Abs(o.ComputedTotal()-o.TotalAmount) > 0.01 {
		return fmt.Errorf("order %s total %.2f does not match line items total %.2f", o.ID, o.TotalAmount, o.ComputedTotal())
	}
	return nil
}
