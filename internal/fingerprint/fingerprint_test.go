package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeDeterministic(t *testing.T) {
	a := Compute("example.com", "/cart", "Your Cart", []string{"Coupon", "Email"}, []string{"Checkout"})
	b := Compute("example.com", "/cart", "Your Cart", []string{"Coupon", "Email"}, []string{"Checkout"})
	assert.Equal(t, a, b)
	assert.Len(t, a, 32)
}

func TestComputeIgnoresListOrder(t *testing.T) {
	a := Compute("example.com", "/checkout", "Checkout", []string{"First Name", "Last Name", "Zip"}, []string{"Continue", "Cancel"})
	b := Compute("example.com", "/checkout", "Checkout", []string{"Zip", "First Name", "Last Name"}, []string{"Cancel", "Continue"})
	assert.Equal(t, a, b)
}

func TestComputeNormalizesTrailingSlash(t *testing.T) {
	a := Compute("example.com", "/cart/", "Your Cart", []string{"Coupon"}, []string{"Checkout"})
	b := Compute("example.com", "/cart", "Your Cart", []string{"Coupon"}, []string{"Checkout"})
	assert.Equal(t, a, b)
}

func TestComputeCaseInsensitive(t *testing.T) {
	a := Compute("Example.COM", "/Cart", "YOUR CART", []string{"coupon"}, []string{"CHECKOUT"})
	b := Compute("example.com", "/cart", "Your Cart", []string{"Coupon"}, []string{"Checkout"})
	assert.Equal(t, a, b)
}

func TestComputeSensitiveToHostAndPath(t *testing.T) {
	base := Compute("example.com", "/cart", "Your Cart", []string{"Coupon"}, []string{"Checkout"})
	assert.NotEqual(t, base, Compute("other.com", "/cart", "Your Cart", []string{"Coupon"}, []string{"Checkout"}))
	assert.NotEqual(t, base, Compute("example.com", "/checkout", "Your Cart", []string{"Coupon"}, []string{"Checkout"}))
	assert.NotEqual(t, base, Compute("example.com", "/cart", "Order Placed", []string{"Coupon"}, []string{"Checkout"}))
}

func TestComputeBoundsSamples(t *testing.T) {
	labels := make([]string, 0, 20)
	for _, l := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k", "l"} {
		labels = append(labels, l)
	}
	// Everything beyond the first 10 sorted labels is ignored.
	a := Compute("example.com", "/form", "Form", labels, nil)
	b := Compute("example.com", "/form", "Form", labels[:10], nil)
	assert.Equal(t, a, b)
}

func TestComputeEmptyInputs(t *testing.T) {
	a := Compute("", "", "", nil, nil)
	b := Compute("", "/", "", []string{}, []string{" "})
	assert.Equal(t, a, b)
}
