package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// mainContentSelectors mirrors the original extractor's fallback
// candidate list for unregistered sites.
var mainContentSelectors = []string{"article", "main", "div", "section"}

// findMainContent returns the candidate block (div/article/section/
// main) with the longest visible text, the original's
// "_extract_main_content" fallback heuristic.
func findMainContent(doc *goquery.Document) *goquery.Selection {
	var (
		best       *goquery.Selection
		bestLength int
	)

	for _, sel := range mainContentSelectors {
		doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
			length := len([]rune(s.Text()))
			if length > bestLength {
				bestLength = length
				best = s
			}
		})
	}

	return best
}

func stripTags(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return html
	}

	return doc.Text()
}
