package task

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSuccessMet(t *testing.T) {
	s := Success{URLContains: "checkout-complete", PageContains: "thank you"}
	assert.True(t, s.Met("https://shop.test/checkout-complete.html", ""))
	assert.True(t, s.Met("https://shop.test/cart", "Thank You for your order"))
	assert.False(t, s.Met("https://shop.test/cart", "still shopping"))

	empty := Success{}
	assert.False(t, empty.Met("https://shop.test/", "anything"))
}

func TestBuiltinCatalog(t *testing.T) {
	c := Builtin()
	got, err := c.Get("saucedemo-checkout")
	require.NoError(t, err)
	assert.Equal(t, "saucedemo.com", got.Domain)
	assert.Equal(t, "checkout", got.Intent)
	assert.NotEmpty(t, c.IDs())

	_, err = c.Get("nope")
	assert.Error(t, err)
}

func TestLoadCatalog(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tasks.yaml")
	yaml := `
tasks:
  - id: shop-search
    name: Shop search
    description: Search the shop for a lamp.
    start_url: https://shop.test/
    domain: shop.test
    intent: search
    success_condition:
      url_contains: results
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	c, err := LoadCatalog(path)
	require.NoError(t, err)

	got, err := c.Get("shop-search")
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxSteps, got.MaxSteps)
	assert.Equal(t, "results", got.Success.URLContains)

	// Built-ins survive the merge.
	_, err = c.Get("saucedemo-login")
	assert.NoError(t, err)
}

func TestLoadCatalogRejectsIncomplete(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tasks.yaml")
	yaml := `
tasks:
  - id: broken
    start_url: https://shop.test/
    domain: shop.test
    intent: search
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	_, err := LoadCatalog(path)
	assert.ErrorContains(t, err, "success condition")
}
