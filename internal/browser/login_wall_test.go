package browser

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sifangyu/weipc/internal/sites"
)

func testLoginConfig() sites.LoginConfig {
	return sites.LoginConfig{
		LoginURL:         "https://linux.do/login",
		UsernameSelector: "#login-account-name",
		PasswordSelector: "#login-account-password",
		SubmitSelector:   "#login-button",
		Username:         "bot",
		Password:         "secret",
	}
}

func TestIsLoginWall_DetectsLoginForm(t *testing.T) {
	html := `<html><body><form>
		<input id="login-account-name">
		<input id="login-account-password" type="password">
	</form></body></html>`

	assert.True(t, isLoginWall(html, testLoginConfig()))
}

func TestIsLoginWall_FalseForOrdinaryPage(t *testing.T) {
	html := `<html><body><div id="post_1"><p>a regular topic page</p></div></body></html>`

	assert.False(t, isLoginWall(html, testLoginConfig()))
}

func TestFetcher_LoginFor_MatchesSubdomainAndWWW(t *testing.T) {
	f := &Fetcher{logins: map[string]sites.LoginConfig{
		"linux.do": testLoginConfig(),
	}}

	_, ok := f.loginFor("linux.do")
	assert.True(t, ok)

	_, ok = f.loginFor("www.linux.do")
	assert.True(t, ok)

	_, ok = f.loginFor("forum.linux.do")
	assert.True(t, ok)

	_, ok = f.loginFor("other.example")
	assert.False(t, ok)
}
