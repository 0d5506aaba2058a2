package extract

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/sifangyu/weipc/internal/store"
)

// avatarClassHints and excluded parent classes mirror the original
// extractor's image filtering: skip avatars, emoji, and images whose
// container is a user-info block.
var avatarClassHints = []string{"avatar", "emoji", "letter_avatar"}

var userInfoParentClasses = []string{"user-info", "topic-meta", "avatar"}

// normalizeImages rewrites <img> src attributes in place, preferring
// data-src/data-original (lazy-load placeholders) over src, and
// resolving the result against baseURL, matching the original's
// "_clean_content_preserve_html" image handling.
func normalizeImages(sel *goquery.Selection, baseURL string) {
	sel.Find("img").Each(func(_ int, img *goquery.Selection) {
		src, _ := img.Attr("src")

		if dataSrc, ok := img.Attr("data-src"); ok && dataSrc != "" {
			src = dataSrc
		} else if dataOriginal, ok := img.Attr("data-original"); ok && dataOriginal != "" {
			src = dataOriginal
		}

		src = normalizeURL(src, baseURL)
		if src != "" {
			img.SetAttr("src", src)
		}

		img.RemoveAttr("data-src")
		img.RemoveAttr("data-original")
		img.RemoveAttr("loading")
	})
}

// normalizeURL resolves src against baseURL: protocol-relative ("//")
// URLs get the https scheme, root-relative ("/") URLs get baseURL's
// scheme and host, and any other relative form is resolved via
// net/url's RFC 3986 reference resolution, matching _extract_images'
// urlparse/urljoin handling.
func normalizeURL(src, baseURL string) string {
	if src == "" {
		return ""
	}

	if strings.HasPrefix(src, "//") {
		return "https:" + src
	}

	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		return src
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return src
	}

	if strings.HasPrefix(src, "/") {
		return base.Scheme + "://" + base.Host + src
	}

	ref, err := url.Parse(src)
	if err != nil {
		return src
	}

	return base.ResolveReference(ref).String()
}

// extractImages collects content images from scope, excluding
// avatar/emoji images and any image sitting inside a user-info
// container, per isContentImage in the original extractor. Each image
// keeps its alt/title/width/height attributes, matching _extract_images.
// Callers pass a main-post-narrowed scope where one applies, so images
// from replies/sidebars outside the main post are never collected.
func extractImages(scope *goquery.Selection, baseURL string) []store.Image {
	var images []store.Image

	scope.Find("img").Each(func(_ int, img *goquery.Selection) {
		if !isContentImage(img) {
			return
		}

		src, ok := img.Attr("src")
		if !ok || src == "" {
			src, ok = img.Attr("data-src")
			if !ok || src == "" {
				return
			}
		}

		alt, _ := img.Attr("alt")
		title, _ := img.Attr("title")
		width, _ := img.Attr("width")
		height, _ := img.Attr("height")

		images = append(images, store.Image{
			URL:    normalizeURL(src, baseURL),
			Alt:    strings.TrimSpace(alt),
			Title:  strings.TrimSpace(title),
			Width:  width,
			Height: height,
		})
	})

	return images
}

func isContentImage(img *goquery.Selection) bool {
	class, _ := img.Attr("class")
	classLower := strings.ToLower(class)

	for _, hint := range avatarClassHints {
		if strings.Contains(classLower, hint) {
			return false
		}
	}

	isExcluded := false

	img.ParentsFiltered("*").EachWithBreak(func(_ int, parent *goquery.Selection) bool {
		parentClass, _ := parent.Attr("class")
		parentClassLower := strings.ToLower(parentClass)

		for _, excluded := range userInfoParentClasses {
			if strings.Contains(parentClassLower, excluded) {
				isExcluded = true
				return false
			}
		}

		return true
	})

	return !isExcluded
}
