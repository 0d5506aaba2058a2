package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sifangyu/weipc/internal/platform/config"
)

func TestApplyAuthorWindow_NarrowsToMarkerSpan(t *testing.T) {
	content := "intro noise\n[START]the author's own words[END]\ntrailing noise"
	rules := &config.AuthorRuleConfig{StartMarker: "[START]", EndMarker: "[END]"}

	got := applyAuthorWindow(content, rules)

	assert.Equal(t, "the author's own words", got)
}

func TestApplyAuthorWindow_IncludeMarkers(t *testing.T) {
	content := "intro\n[START]body[END]\noutro"
	rules := &config.AuthorRuleConfig{StartMarker: "[START]", EndMarker: "[END]", IncludeMarkers: true}

	got := applyAuthorWindow(content, rules)

	assert.Equal(t, "[START]body[END]", got)
}

func TestApplyAuthorWindow_MissingMarkerFallsBackToFull(t *testing.T) {
	content := "no markers here at all"
	rules := &config.AuthorRuleConfig{StartMarker: "[START]", EndMarker: "[END]", FallbackToFull: true}

	got := applyAuthorWindow(content, rules)

	assert.Equal(t, content, got)
}

func TestApplyAuthorWindow_MissingMarkerNoFallbackYieldsEmpty(t *testing.T) {
	content := "no markers here at all"
	rules := &config.AuthorRuleConfig{StartMarker: "[START]", EndMarker: "[END]", FallbackToFull: false}

	got := applyAuthorWindow(content, rules)

	assert.Equal(t, "", got)
}

func TestApplyAuthorWindow_NoMarkersConfiguredReturnsContentUnchanged(t *testing.T) {
	content := "whatever content"
	rules := &config.AuthorRuleConfig{}

	got := applyAuthorWindow(content, rules)

	assert.Equal(t, content, got)
}
