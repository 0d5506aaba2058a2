package extract

import (
	"strings"

	"github.com/sifangyu/weipc/internal/platform/config"
)

// applyAuthorWindow narrows content down to the span between
// start_marker and end_marker, matching the original's
// "_apply_author_based_content_extraction": find both marker
// positions, optionally include the markers themselves in the result,
// and fall back to the full content when a marker is missing or the
// markers appear in the wrong order (unless fallback_to_full is
// false, in which case an inverted/missing window yields empty
// content).
func applyAuthorWindow(content string, rules *config.AuthorRuleConfig) string {
	if rules.StartMarker == "" && rules.EndMarker == "" {
		return content
	}

	startIdx := 0
	if rules.StartMarker != "" {
		idx := strings.Index(content, rules.StartMarker)
		if idx == -1 {
			if rules.FallbackToFull {
				return content
			}

			return ""
		}

		if rules.IncludeMarkers {
			startIdx = idx
		} else {
			startIdx = idx + len(rules.StartMarker)
		}
	}

	endIdx := len(content)
	if rules.EndMarker != "" {
		idx := strings.Index(content, rules.EndMarker)
		if idx == -1 {
			if rules.FallbackToFull {
				return content
			}

			return ""
		}

		if rules.IncludeMarkers {
			endIdx = idx + len(rules.EndMarker)
		} else {
			endIdx = idx
		}
	}

	if startIdx >= endIdx {
		if rules.FallbackToFull {
			return content
		}

		return ""
	}

	return content[startIdx:endIdx]
}
