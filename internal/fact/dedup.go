package fact

import "salesfact/internal/model"

// Deduplicate selects the authoritative revision per order_id among active revisions.
// Orders without any active revision are absent from the result.
func Deduplicate(orders []model.Order) map[string]model.Order {
	latest := make(map[string]model.Order)
	for _, o := range orders {
		if !o.IsActive {
			continue
		}
		cur, ok := latest[o.OrderID]
		if !ok || model.Supersedes(o, cur) {
			latest[o.OrderID] = o
		}
	}
	return latest
}
