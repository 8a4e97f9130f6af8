package analysis

// SocialActivity captures observed activity signals on a store's social
// accounts.
type SocialActivity struct {
	Hashtags         []string `json:"hashtags,omitempty"`
	InstagramPosts   int      `json:"instagram_posts,omitempty"`
	TwitterFollowers int      `json:"twitter_followers,omitempty"`
}

// SocialLinks holds the social accounts detected on the analyzed page.
type SocialLinks struct {
	Instagram string          `json:"instagram,omitempty"`
	Twitter   string          `json:"twitter,omitempty"`
	Facebook  string          `json:"facebook,omitempty"`
	Activity  *SocialActivity `json:"activity,omitempty"`
}

// DOMElements records which commerce UI elements were found on the page.
type DOMElements struct {
	AddToCart          bool `json:"add_to_cart"`
	BuyNow             bool `json:"buy_now"`
	ProductVariants    bool `json:"product_variants"`
	ProductDescription bool `json:"product_description"`
	ProductImages      bool `json:"product_images"`
}

// Features records which storefront features were detected.
type Features struct {
	Search   bool `json:"search"`
	Cart     bool `json:"cart"`
	Reviews  bool `json:"reviews"`
	Wishlist bool `json:"wishlist"`
}

// CompetitorSummary is the structured summary of the analyzed store.
type CompetitorSummary struct {
	PageType      string       `json:"page_type,omitempty"`
	ProductCount  int          `json:"product_count"`
	CategoryCount int          `json:"category_count"`
	PriceCount    int          `json:"price_count"`
	Products      []string     `json:"products,omitempty"`
	Prices        []string     `json:"prices,omitempty"`
	Categories    []string     `json:"categories,omitempty"`
	Collections   []string     `json:"collections,omitempty"`
	Apps          []string     `json:"apps,omitempty"`
	Theme         string       `json:"theme,omitempty"`
	DOMElements   *DOMElements `json:"dom_elements,omitempty"`
	Features      *Features    `json:"features,omitempty"`
}

// Scores are the five diagnostic axes, each 0-100.
type Scores struct {
	SNS       int `json:"sns_score"`
	Structure int `json:"structure_score"`
	UX        int `json:"ux_score"`
	App       int `json:"app_score"`
	Theme     int `json:"theme_score"`
}

// Result is a full analysis of one store URL.
type Result struct {
	URL               string             `json:"url"`
	CompetitorSummary *CompetitorSummary `json:"competitor_summary,omitempty"`
	SocialLinks       *SocialLinks       `json:"social_links,omitempty"`
	Advice            string             `json:"advice,omitempty"`
	Scores            *Scores            `json:"scores,omitempty"`
	Tags              []string           `json:"tags,omitempty"`
}
