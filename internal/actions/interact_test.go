package actions

import (
	"testing"

	"github.com/go-rod/rod/lib/proto"
	"github.com/stretchr/testify/assert"
)

func TestFieldValues(t *testing.T) {
	assert.True(t, fieldChecked(true))
	assert.True(t, fieldChecked("true"))
	assert.True(t, fieldChecked("on"))
	assert.True(t, fieldChecked(float64(1)))
	assert.False(t, fieldChecked("no"))
	assert.False(t, fieldChecked(nil))

	assert.Equal(t, "", fieldText(nil))
	assert.Equal(t, "42", fieldText(float64(42)))
	assert.Equal(t, "4.5", fieldText(4.5))
	assert.Equal(t, "hi", fieldText("hi"))
	assert.Equal(t, "true", fieldText(true))
}

func TestMouseButton(t *testing.T) {
	assert.Equal(t, proto.InputMouseButtonLeft, mouseButton(""))
	assert.Equal(t, proto.InputMouseButtonRight, mouseButton("right"))
	assert.Equal(t, proto.InputMouseButtonMiddle, mouseButton("middle"))
}

func TestURLMatcher(t *testing.T) {
	m := urlMatcher("**/login*")
	assert.True(t, m("https://shop.test/account/login?next=home"))
	assert.False(t, m("https://shop.test/account"))

	exact := urlMatcher("https://shop.test/cart")
	assert.True(t, exact("https://shop.test/cart"))
	assert.False(t, exact("https://shop.test/cart/1"))
}
