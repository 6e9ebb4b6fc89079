package config

// Catalog holds the operator-editable work order categories and user tier
// labels. It is loaded once at startup and handed to the components that need
// it; nothing resolves these labels from ambient process state.
type Catalog struct {
	Categories []CategoryOption `json:"categories"`
	Tiers      []TierOption     `json:"tiers"`
}

// CategoryOption is one selectable work order category.
type CategoryOption struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// TierOption is one user tier with its routing priority.
type TierOption struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	Priority int    `json:"priority"`
}

// ValidCategory reports whether id names a known category.
func (c Catalog) ValidCategory(id string) bool {
	for _, opt := range c.Categories {
		if opt.ID == id {
			return true
		}
	}
	return false
}

// CategoryLabel resolves the display label for a category, falling back to
// the raw id for values no longer in the catalog.
func (c Catalog) CategoryLabel(id string) string {
	for _, opt := range c.Categories {
		if opt.ID == id {
			return opt.Label
		}
	}
	return id
}

// TierLabel resolves the display label for a tier id.
func (c Catalog) TierLabel(id string) string {
	for _, opt := range c.Tiers {
		if opt.ID == id {
			return opt.Label
		}
	}
	return id
}

// TierPriority resolves the ordinal priority of a tier; unknown tiers rank
// lowest.
func (c Catalog) TierPriority(id string) int {
	for _, opt := range c.Tiers {
		if opt.ID == id {
			return opt.Priority
		}
	}
	return 0
}

// DefaultCatalog mirrors the stock platform configuration.
func DefaultCatalog() Catalog {
	return Catalog{
		Categories: []CategoryOption{
			{ID: "app", Label: "app"},
			{ID: "dataset", Label: "dataset"},
			{ID: "account", Label: "account"},
			{ID: "commercial", Label: "commercial"},
			{ID: "other", Label: "other"},
		},
		Tiers: []TierOption{
			{ID: "free", Label: "free", Priority: 0},
			{ID: "experience", Label: "experience", Priority: 1},
			{ID: "team", Label: "team", Priority: 2},
			{ID: "enterprise", Label: "enterprise", Priority: 3},
			{ID: "custom", Label: "custom", Priority: 4},
		},
	}
}
