package jwk

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeKeySet(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "keys.json")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))
	return path
}

func octetKey(material string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(material))
}

func TestLoadKeySet(t *testing.T) {
	path := writeKeySet(t, fmt.Sprintf(`{"keys": [
		{"kty": "oct", "kid": "k1", "alg": "HS256", "k": %q},
		{"kty": "oct", "kid": "k2", "alg": "HS256", "k": %q}
	]}`, octetKey("first secret"), octetKey("second secret")))

	set, err := LoadKeySet(path, nil)
	require.NoError(t, err)
	require.Equal(t, 2, set.Len())

	key, ok := set.Key("k1")
	require.True(t, ok)
	assert.Equal(t, []byte("first secret"), key)

	assert.ElementsMatch(t, []string{"k1", "k2"}, set.KeyIDs())
}

func TestLoadKeySetPaddedMaterial(t *testing.T) {
	path := writeKeySet(t, fmt.Sprintf(`{"keys": [{"kty": "oct", "kid": "k1", "k": %q}]}`,
		base64.URLEncoding.EncodeToString([]byte("padded secret"))))

	set, err := LoadKeySet(path, nil)
	require.NoError(t, err)

	key, ok := set.Key("k1")
	require.True(t, ok)
	assert.Equal(t, []byte("padded secret"), key)
}

func TestLoadKeySetSkipsEntriesWithoutKeyID(t *testing.T) {
	path := writeKeySet(t, fmt.Sprintf(`{"keys": [
		{"kty": "oct", "k": %q},
		{"kty": "oct", "kid": "k2", "k": %q}
	]}`, octetKey("anonymous"), octetKey("named")))

	set, err := LoadKeySet(path, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, set.Len())

	_, ok := set.Key("k2")
	assert.True(t, ok)
}

func TestLoadKeySetDuplicateKeyIDFirstWins(t *testing.T) {
	path := writeKeySet(t, fmt.Sprintf(`{"keys": [
		{"kty": "oct", "kid": "k1", "k": %q},
		{"kty": "oct", "kid": "k1", "k": %q}
	]}`, octetKey("the original"), octetKey("the impostor")))

	set, err := LoadKeySet(path, nil)
	require.NoError(t, err)
	require.Equal(t, 1, set.Len())

	key, ok := set.Key("k1")
	require.True(t, ok)
	assert.Equal(t, []byte("the original"), key)
}

func TestLoadKeySetRejectsNonOctetKey(t *testing.T) {
	path := writeKeySet(t, `{"keys": [{"kty": "RSA", "kid": "rsa1", "n": "0vx7", "e": "AQAB"}]}`)

	_, err := LoadKeySet(path, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"rsa1"`)
	assert.Contains(t, err.Error(), path)
	assert.Contains(t, err.Error(), "RSA")
}

func TestLoadKeySetRejectsBadKeyMaterial(t *testing.T) {
	path := writeKeySet(t, `{"keys": [{"kty": "oct", "kid": "k1", "k": "!!not base64!!"}]}`)

	_, err := LoadKeySet(path, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"k1"`)
}

func TestLoadKeySetMissingFile(t *testing.T) {
	_, err := LoadKeySet(filepath.Join(t.TempDir(), "nope.json"), nil)
	assert.Error(t, err)
}

func TestLoadKeySetBadJSON(t *testing.T) {
	path := writeKeySet(t, `{"keys": [`)

	_, err := LoadKeySet(path, nil)
	assert.Error(t, err)
}
