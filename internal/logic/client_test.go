package logic

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClientID_Stable(t *testing.T) {
	a := ClientID("secret", "203.0.113.7", "Mozilla/5.0")
	b := ClientID("secret", "203.0.113.7", "Mozilla/5.0")
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestClientID_InputsChangeHash(t *testing.T) {
	base := ClientID("secret", "203.0.113.7", "Mozilla/5.0")
	assert.NotEqual(t, base, ClientID("secret", "203.0.113.8", "Mozilla/5.0"))
	assert.NotEqual(t, base, ClientID("secret", "203.0.113.7", "curl/8.0"))
	assert.NotEqual(t, base, ClientID("other", "203.0.113.7", "Mozilla/5.0"))
}

func TestClientID_NothingToFingerprint(t *testing.T) {
	// Two requests with no IP and no UA must not share an identifier.
	a := ClientID("secret", "", "")
	b := ClientID("secret", "", "")
	assert.NotEqual(t, a, b)
}

func TestAnonymizeIP(t *testing.T) {
	assert.Equal(t, "203.0.0.0", AnonymizeIP("203.0.113.77"))
	assert.Equal(t, "10.1.0.0", AnonymizeIP("10.1.2.3"))
	assert.Equal(t, "2001:db8::1234:0", AnonymizeIP("2001:db8::1234:5678"))
	// Unparseable input passes through untouched.
	assert.Equal(t, "not-an-ip", AnonymizeIP("not-an-ip"))
}
