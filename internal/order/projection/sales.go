package projection

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/nazeru/storefront-tx-go/internal/order/domain"
	"github.com/nazeru/storefront-tx-go/internal/order/store"
)

type ProductSales struct {
	Name      string `json:"name"`
	UnitsSold int    `json:"unitsSold"`
}

// SalesSummary is the dashboard payload. Months are keyed "2006-01".
type SalesSummary struct {
	TotalRevenue   decimal.Decimal            `json:"totalRevenue"`
	TotalOrders    int                        `json:"totalOrders"`
	TotalCustomers int                        `json:"totalCustomers"`
	TopProducts    []ProductSales             `json:"topProducts"`
	SalesByMonth   map[string]decimal.Decimal `json:"salesByMonth"`
}

const topProducts = 5

// Summarize aggregates orders. Cancelled orders are left out entirely.
func Summarize(orders []domain.Order) SalesSummary {
	sum := SalesSummary{TotalRevenue: decimal.Zero, SalesByMonth: map[string]decimal.Decimal{}}
	customers := map[domain.UserID]struct{}{}
	units := map[domain.ProductID]*ProductSales{}

	for _, o := range orders {
		if o.Status == domain.OrderStatusCancelled {
			continue
		}
		sum.TotalOrders++
		sum.TotalRevenue = sum.TotalRevenue.Add(o.Total)
		customers[o.UserID] = struct{}{}
		month := o.CreatedAt.UTC().Format("2006-01")
		sum.SalesByMonth[month] = sum.SalesByMonth[month].Add(o.Total)
		for _, it := range o.Items {
			ps, ok := units[it.ID]
			if !ok {
				ps = &ProductSales{Name: it.Name}
				units[it.ID] = ps
			}
			ps.UnitsSold += it.Quantity
		}
	}
	sum.TotalCustomers = len(customers)

	sum.TopProducts = make([]ProductSales, 0, len(units))
	for _, ps := range units {
		sum.TopProducts = append(sum.TopProducts, *ps)
	}
	sort.Slice(sum.TopProducts, func(i, j int) bool {
		a, b := sum.TopProducts[i], sum.TopProducts[j]
		if a.UnitsSold != b.UnitsSold {
			return a.UnitsSold > b.UnitsSold
		}
		return a.Name < b.Name
	})
	if len(sum.TopProducts) > topProducts {
		sum.TopProducts = sum.TopProducts[:topProducts]
	}
	return sum
}

func (s *Service) SalesSummary(ctx context.Context, p *domain.Principal) (SalesSummary, error) {
	if !p.IsAdmin() {
		return SalesSummary{}, forbidden(p)
	}
	orders, err := s.orders.ListOrders(ctx, store.OrderFilter{})
	if err != nil {
		return SalesSummary{}, storeErr(err)
	}
	return Summarize(orders), nil
}
