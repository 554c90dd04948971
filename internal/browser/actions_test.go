package browser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseActionClick(t *testing.T) {
	cases := []struct {
		line   string
		target string
	}{
		{"click the Checkout button", "Checkout"},
		{"Click 'Add to cart'", "Add to cart"},
		{`press the "Place Order" button`, "Place Order"},
		{"select the Sauce Labs Backpack link", "Sauce Labs Backpack"},
		{"tap Login", "Login"},
	}
	for _, tc := range cases {
		got := ParseAction(tc.line)
		assert.Equal(t, VerbClick, got.Verb, tc.line)
		assert.Equal(t, tc.target, got.Target, tc.line)
	}
}

func TestParseActionFill(t *testing.T) {
	got := ParseAction("fill the Email field with jane@example.com")
	assert.Equal(t, VerbFill, got.Verb)
	assert.Equal(t, "Email", got.Target)
	assert.Equal(t, "jane@example.com", got.Value)

	got = ParseAction("type secret_sauce into the Password field")
	assert.Equal(t, VerbFill, got.Verb)
	assert.Equal(t, "Password", got.Target)
	assert.Equal(t, "secret_sauce", got.Value)

	got = ParseAction(`enter "94105" into Zip Code`)
	assert.Equal(t, VerbFill, got.Verb)
	assert.Equal(t, "Zip Code", got.Target)
	assert.Equal(t, "94105", got.Value)
}

func TestParseActionNavigation(t *testing.T) {
	got := ParseAction("navigate to https://www.saucedemo.com/")
	assert.Equal(t, VerbNavigate, got.Verb)
	assert.Equal(t, "https://www.saucedemo.com/", got.Target)

	assert.Equal(t, VerbBack, ParseAction("go back").Verb)
	assert.Equal(t, VerbReload, ParseAction("reload the page").Verb)
	assert.Equal(t, VerbWait, ParseAction("wait for the page to load").Verb)
}

func TestParseActionScroll(t *testing.T) {
	down := ParseAction("scroll down")
	assert.Equal(t, VerbScroll, down.Verb)
	assert.Equal(t, "down", down.Direction)

	up := ParseAction("scroll up to the top")
	assert.Equal(t, "up", up.Direction)
}

func TestParseActionPressEnter(t *testing.T) {
	got := ParseAction("press Enter")
	assert.Equal(t, VerbPressKey, got.Verb)
	assert.Equal(t, "Enter", got.Target)
}

func TestParseActionUnknown(t *testing.T) {
	assert.Equal(t, VerbUnknown, ParseAction("").Verb)
	assert.Equal(t, VerbUnknown, ParseAction("hmm, not sure what to do").Verb)
	assert.Equal(t, VerbUnknown, ParseAction("click").Verb)
}

func TestGenericVerb(t *testing.T) {
	assert.True(t, ParseAction("scroll down").GenericVerb())
	assert.True(t, ParseAction("go back").GenericVerb())
	assert.True(t, ParseAction("wait").GenericVerb())
	assert.True(t, ParseAction("navigate to https://x.test/").GenericVerb())
	assert.False(t, ParseAction("click the Checkout button").GenericVerb())
	assert.False(t, ParseAction("fill Email with a@b.c").GenericVerb())
}

func TestClickCandidateLadder(t *testing.T) {
	c := &controller{}
	cands := c.clickCandidates("Checkout")
	require.Len(t, cands, 4)
	assert.Equal(t, `click button "Checkout"`, cands[0].Describe())
	assert.Equal(t, `click link "Checkout"`, cands[1].Describe())
	assert.Equal(t, `click text "Checkout"`, cands[2].Describe())
	assert.Equal(t, `click text ~"Checkout"`, cands[3].Describe())
}

func TestFillCandidateLadder(t *testing.T) {
	c := &controller{}
	cands := c.fillCandidates("Email", "jane@example.com")
	require.Len(t, cands, 3)
	assert.Equal(t, `fill field labeled "Email"`, cands[0].Describe())
	assert.Equal(t, `fill field placeholder "Email"`, cands[1].Describe())

	assert.Empty(t, c.fillCandidates("", "x"))
	assert.Empty(t, c.fillCandidates("Email", ""))
}

func TestExtractTarget(t *testing.T) {
	assert.Equal(t, "Checkout", extractTarget("the Checkout button"))
	assert.Equal(t, "Add to cart", extractTarget(`"Add to cart"`))
	assert.Equal(t, "Login", extractTarget("on the Login link"))
	assert.Equal(t, "", extractTarget("  "))
}
