package logic

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildKeywordSet(t *testing.T) {
	set, ordered := BuildKeywordSet(
		[]string{"Go", "  golang ", "go", ""},
		[]string{"DevOps", "golang"},
	)
	assert.Equal(t, []string{"go", "golang", "devops"}, ordered)
	assert.True(t, set["go"])
	assert.True(t, set["devops"])
	assert.False(t, set["Go"])

	set, ordered = BuildKeywordSet(nil)
	assert.Empty(t, set)
	assert.Nil(t, ordered)
}

func TestValidateURL(t *testing.T) {
	assert.Equal(t, "https://example.com/a?b=1", ValidateURL("https://example.com/a?b=1"))
	assert.Equal(t, "http://example.com", ValidateURL("http://example.com"))

	assert.Equal(t, "", ValidateURL(""))
	assert.Equal(t, "", ValidateURL("ftp://example.com/file"))
	assert.Equal(t, "", ValidateURL("javascript:alert(1)"))
	assert.Equal(t, "", ValidateURL("/relative/path"))
	assert.Equal(t, "", ValidateURL("://bad"))
}

func TestDomainOf(t *testing.T) {
	assert.Equal(t, "example.com", DomainOf("https://Example.COM/page"))
	assert.Equal(t, "example.com", DomainOf("https://example.com:8443/page"))
	assert.Equal(t, "", DomainOf(""))
}
