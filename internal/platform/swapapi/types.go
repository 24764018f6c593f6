package swapapi

import "github.com/barterline/swapd/internal/domain"

// APIProduct mirrors the platform backend's product JSON.
type APIProduct struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Points      int      `json:"points"`
	Images      []string `json:"images"`
	Profile     string   `json:"profile"`
	Categories  []string `json:"categories"`
}

// ToDomainProduct converts the API representation into the domain Product.
func (p APIProduct) ToDomainProduct() domain.Product {
	return domain.Product{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Points:      p.Points,
		Images:      p.Images,
		ProfileID:   p.Profile,
		Categories:  p.Categories,
	}
}

// apiError is the backend's error body shape. Both fields are optional.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (e apiError) text() string {
	if e.Error != "" {
		return e.Error
	}
	return e.Message
}
