package sites

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sifangyu/weipc/internal/platform/config"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()

	r, err := NewRegistry(map[string]config.SiteConfig{
		"linux_do": {
			Domain:           "linux.do",
			SiteName:         "Linux.do",
			ContentSelectors: []string{".cooked"},
		},
		"secure_site": {
			Domain:           "secure.example",
			RequiresLogin:    true,
			LoginURL:         "https://secure.example/login",
			UsernameSelector: "#user",
			PasswordSelector: "#pass",
			SubmitSelector:   "#submit",
			ContentSelectors: []string{"article"},
		},
	}, zerolog.Nop())
	require.NoError(t, err)

	return r
}

func TestDetect_ExactAndSubdomainMatch(t *testing.T) {
	r := testRegistry(t)

	d, ok := r.Detect("https://linux.do/t/123")
	require.True(t, ok)
	assert.Equal(t, "linux_do", d.Rule.Key)

	d2, ok := r.Detect("https://www.linux.do/t/123")
	require.True(t, ok)
	assert.Equal(t, "linux_do", d2.Rule.Key)

	d3, ok := r.Detect("https://forum.linux.do/t/123")
	require.True(t, ok)
	assert.Equal(t, "linux_do", d3.Rule.Key)
}

func TestDetect_UnknownDomain(t *testing.T) {
	r := testRegistry(t)

	_, ok := r.Detect("https://totally-unknown.example/x")
	assert.False(t, ok)
}

func TestValidate_RequiresContentOrTitleSelectors(t *testing.T) {
	err := Validate(Rule{Domain: "example.com"})
	assert.Error(t, err)
}

func TestValidate_LoginSiteRequiresFullLoginConfig(t *testing.T) {
	err := Validate(Rule{
		Domain:        "example.com",
		RequiresLogin: true,
		Extraction:    ExtractionConfig{ContentSelectors: []string{"article"}},
	})
	assert.Error(t, err)
}

func TestAdd_RuntimeRegistration(t *testing.T) {
	r := testRegistry(t)

	err := r.Add(Rule{
		Key:        "new_site",
		Domain:     "new.example",
		Extraction: ExtractionConfig{TitleSelectors: []string{"h1"}},
	})
	require.NoError(t, err)

	d, ok := r.Detect("https://new.example/page")
	require.True(t, ok)
	assert.Equal(t, "new_site", d.Rule.Key)
}
