package analysis

import (
	"fmt"
	"strings"
)

// featuredApps get their own tag when detected.
var featuredApps = []string{"Klaviyo", "Judge.me", "Yotpo", "ReCharge"}

// popularThemes earn a bonus on the theme axis.
var popularThemes = map[string]bool{
	"dawn":    true,
	"expanse": true,
	"refresh": true,
	"sense":   true,
}

// CalculateScores derives the five diagnostic scores from a raw analysis.
// Each axis is capped at 100; a missing section scores zero.
func CalculateScores(r *Result) Scores {
	var scores Scores
	if r == nil {
		return scores
	}

	if sl := r.SocialLinks; sl != nil {
		sns := 0
		if sl.Instagram != "" {
			sns += 30
		}
		if sl.Twitter != "" {
			sns += 20
		}
		if act := sl.Activity; act != nil {
			if len(act.Hashtags) > 0 {
				sns += min(20, len(act.Hashtags)*5)
			}
			if act.InstagramPosts > 0 {
				sns += 15
			}
			if act.TwitterFollowers > 0 {
				sns += 15
			}
		}
		scores.SNS = min(100, sns)
	}

	cs := r.CompetitorSummary
	if cs == nil {
		return scores
	}

	structure := 0
	if cs.ProductCount > 0 {
		structure += min(30, cs.ProductCount*3)
	}
	if cs.CategoryCount > 0 {
		structure += min(40, cs.CategoryCount*5)
	}
	if len(cs.Collections) > 0 {
		structure += min(30, len(cs.Collections)*6)
	}
	scores.Structure = min(100, structure)

	if dom := cs.DOMElements; dom != nil {
		ux := 0
		if dom.AddToCart {
			ux += 20
		}
		if dom.BuyNow {
			ux += 15
		}
		if dom.ProductVariants {
			ux += 15
		}
		if dom.ProductDescription {
			ux += 15
		}
		if dom.ProductImages {
			ux += 15
		}
		if f := cs.Features; f != nil {
			if f.Search {
				ux += 5
			}
			if f.Cart {
				ux += 5
			}
			if f.Reviews {
				ux += 5
			}
			if f.Wishlist {
				ux += 5
			}
		}
		scores.UX = min(100, ux)
	}

	if len(cs.Apps) > 0 {
		scores.App = min(100, len(cs.Apps)*20)
	}

	if cs.Theme != "" {
		theme := 70
		lower := strings.ToLower(cs.Theme)
		if lower != "unknown" {
			theme += 20
			if popularThemes[lower] {
				theme += 10
			}
		}
		scores.Theme = min(100, theme)
	}

	return scores
}

// GenerateTags derives the history tags shown alongside a saved analysis.
func GenerateTags(r *Result) []string {
	tags := []string{}
	if r == nil {
		return tags
	}

	tags = append(tags, "EC分析")

	if cs := r.CompetitorSummary; cs != nil {
		if cs.PageType != "" {
			tags = append(tags, cs.PageType+"ページ")
		}
		if cs.ProductCount > 0 {
			tags = append(tags, "商品あり")
		}
		if cs.CategoryCount > 0 {
			tags = append(tags, "カテゴリー構造")
		}
		if f := cs.Features; f != nil {
			if f.Search {
				tags = append(tags, "検索機能")
			}
			if f.Reviews {
				tags = append(tags, "レビュー機能")
			}
			if f.Cart {
				tags = append(tags, "カート機能")
			}
		}
		if cs.Theme != "" && !strings.EqualFold(cs.Theme, "unknown") {
			tags = append(tags, "テーマ:"+cs.Theme)
		}
		if len(cs.Apps) > 0 {
			tags = append(tags, "アプリあり")
			for _, app := range cs.Apps {
				for _, featured := range featuredApps {
					if app == featured {
						tags = append(tags, fmt.Sprintf("App:%s", app))
					}
				}
			}
		}
	}

	if sl := r.SocialLinks; sl != nil {
		if sl.Instagram != "" {
			tags = append(tags, "Instagram")
		}
		if sl.Twitter != "" {
			tags = append(tags, "Twitter")
		}
	}

	return tags
}
