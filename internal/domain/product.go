package domain

// Product is a single swap listing as served by the platform backend. Points
// is the listing's assigned point value, used for trade fairness checks.
type Product struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Points      int      `json:"points"`
	Images      []string `json:"images,omitempty"`
	ProfileID   string   `json:"profileId,omitempty"`
	Categories  []string `json:"categories,omitempty"`
}
