package snapshot

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFingerprintStableAcrossOrdering(t *testing.T) {
	a := Summary{
		URL:         "https://example.com/cart/",
		Heading:     "Your Cart",
		FormLabels:  []string{"Coupon", "Email"},
		ButtonTexts: []string{"Checkout", "Continue Shopping"},
	}
	b := Summary{
		URL:         "https://example.com/cart",
		Heading:     "Your Cart",
		FormLabels:  []string{"Email", "Coupon"},
		ButtonTexts: []string{"Continue Shopping", "Checkout"},
	}
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
}

func TestFingerprintSensitiveToState(t *testing.T) {
	base := Summary{URL: "https://example.com/cart", Heading: "Your Cart"}

	otherPath := base
	otherPath.URL = "https://example.com/checkout"
	assert.NotEqual(t, base.Fingerprint(), otherPath.Fingerprint())

	otherHeading := base
	otherHeading.Heading = "Order Complete"
	assert.NotEqual(t, base.Fingerprint(), otherHeading.Fingerprint())
}

func TestFingerprintIgnoresQueryAndTitle(t *testing.T) {
	a := Summary{URL: "https://example.com/cart?utm=x", Title: "Cart (1)"}
	b := Summary{URL: "https://example.com/cart?utm=y", Title: "Cart (2)"}
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
}

func TestSplitURL(t *testing.T) {
	host, path := splitURL("https://www.example.com/a/b?q=1#frag")
	assert.Equal(t, "www.example.com", host)
	assert.Equal(t, "/a/b", path)
}
