package billing

import (
	"strings"

	"mediagen/internal/entity"
)

// Product 可购买的积分套餐，金额单位为分
type Product struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Interval string `json:"interval"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Credits  int64  `json:"credits"`
}

var catalogue = []Product{
	{ID: "starter", Name: "Starter", Interval: entity.OrderIntervalOneTime, Amount: 990, Currency: "usd", Credits: 100},
	{ID: "pro-monthly", Name: "Pro Monthly", Interval: entity.OrderIntervalMonth, Amount: 2990, Currency: "usd", Credits: 600},
	{ID: "pro-yearly", Name: "Pro Yearly", Interval: entity.OrderIntervalYear, Amount: 29900, Currency: "usd", Credits: 8000},
}

// Products returns a copy of the catalogue.
func Products() []Product {
	out := make([]Product, len(catalogue))
	copy(out, catalogue)
	return out
}

func FindProduct(id string) (Product, bool) {
	id = strings.ToLower(strings.TrimSpace(id))
	for _, p := range catalogue {
		if p.ID == id {
			return p, true
		}
	}
	return Product{}, false
}
