package fact

const (
	CategoryFulfilled = "Fulfilled"
	CategoryCancelled = "Cancelled"
	CategoryOpen      = "Open"
)

// Categorize maps a raw order status to its business category.
// Matching is case-sensitive; unknown statuses are Open.
func Categorize(status string) string {
	switch status {
	case "Completed", "Shipped":
		return CategoryFulfilled
	case "Cancelled":
		return CategoryCancelled
	default:
		return CategoryOpen
	}
}
