package cassette

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewSignatureNormalizesOperation(t *testing.T) {
	sig := NewSignature("net/http", " get ", "http://api.internal/users")
	assert.Equal(t, "GET", sig.Operation)
}

func TestNormalizeURL(t *testing.T) {
	assert.Equal(t, "https://api.internal/users",
		NormalizeURL("https://api.internal/users?page=2&after=2026-08-23#frag"))
	assert.Equal(t, "https://api.internal/users", NormalizeURL("https://api.internal/users"))
	// Unparseable input passes through untouched.
	assert.Equal(t, "http://bad url\x7f", NormalizeURL("http://bad url\x7f"))
}

func TestQueryFingerprint(t *testing.T) {
	values := url.Values{}
	values.Set("page", "2")
	values.Set("after", "2026-08-23T00:00:00Z")
	values.Set("limit", "50")

	// Keys only, sorted; volatile values never appear.
	assert.Equal(t, []string{"after", "limit", "page"}, QueryFingerprint(values))
	assert.Nil(t, QueryFingerprint(url.Values{}))
}

func TestHashBody(t *testing.T) {
	assert.Equal(t, "sha256:none", HashBody(nil))

	h := HashBody([]byte(`{"a":1}`))
	assert.Contains(t, h, "sha256:")
	assert.NotEqual(t, "sha256:none", h)
	assert.Equal(t, h, HashBody([]byte(`{"a":1}`)))
	assert.NotEqual(t, h, HashBody([]byte(`{"a":2}`)))
}

func TestSignatureMatchesExactAxes(t *testing.T) {
	recorded := NewSignature("net/http", "GET", "http://api.internal/users")

	assert.True(t, recorded.Matches(NewSignature("net/http", "GET", "http://api.internal/users")))
	assert.False(t, recorded.Matches(NewSignature("net/http", "POST", "http://api.internal/users")))
	assert.False(t, recorded.Matches(NewSignature("go-redis", "GET", "http://api.internal/users")))
	assert.False(t, recorded.Matches(NewSignature("net/http", "GET", "http://api.internal/orders")))
}

func TestSignatureMatchesTolerantAxes(t *testing.T) {
	recorded := NewSignature("net/http", "GET", "http://api.internal/users")
	recorded.Query = []string{"limit", "page"}
	recorded.BodyHash = "sha256:abc"

	// Both sides present and equal.
	live := recorded
	assert.True(t, recorded.Matches(live))

	// Live side absent: tolerant.
	live = NewSignature("net/http", "GET", "http://api.internal/users")
	assert.True(t, recorded.Matches(live))

	// Recorded side absent: tolerant too.
	bare := NewSignature("net/http", "GET", "http://api.internal/users")
	withExtras := bare
	withExtras.Query = []string{"page"}
	withExtras.BodyHash = "sha256:def"
	assert.True(t, bare.Matches(withExtras))

	// Both present and different: mismatch.
	live = recorded
	live.Query = []string{"cursor"}
	assert.False(t, recorded.Matches(live))

	live = recorded
	live.BodyHash = "sha256:def"
	assert.False(t, recorded.Matches(live))
}

func TestSignatureEqualIsStrict(t *testing.T) {
	a := NewSignature("net/http", "GET", "http://api.internal/users")
	b := a
	assert.True(t, a.Equal(b))

	b.BodyHash = "sha256:abc"
	assert.False(t, a.Equal(b))
	// Matches tolerates what Equal rejects.
	assert.True(t, a.Matches(b))
}

func TestSignatureSummary(t *testing.T) {
	sig := NewSignature("net/http", "GET", "http://api.internal/users")
	sig.Query = []string{"limit", "page"}
	assert.Equal(t, "net/http GET http://api.internal/users ?limit,page", sig.Summary())
}
