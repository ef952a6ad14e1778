package signing

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const hardhatKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func TestKeyFile_RoundTrip(t *testing.T) {
	data, err := EncryptKey(hardhatKey, "correct horse")
	require.NoError(t, err)
	assert.Contains(t, string(data), "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")

	key, err := DecryptKey(data, "correct horse")
	require.NoError(t, err)
	assert.Equal(t, hardhatKey[2:], key)

	_, err = DecryptKey(data, "wrong")
	assert.Error(t, err)

	_, err = EncryptKey(hardhatKey, "")
	assert.Error(t, err)
}

func TestLoadSigner(t *testing.T) {
	t.Run("raw key", func(t *testing.T) {
		s, err := LoadSigner(KeySource{RawPrivateKey: hardhatKey})
		require.NoError(t, err)
		assert.Equal(t, "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", s.Address().Hex())
	})

	t.Run("key file", func(t *testing.T) {
		data, err := EncryptKey(hardhatKey, "pw")
		require.NoError(t, err)
		path := filepath.Join(t.TempDir(), "key.json")
		require.NoError(t, os.WriteFile(path, data, 0o600))

		s, err := LoadSigner(KeySource{KeyFile: path, KeyPassword: "pw"})
		require.NoError(t, err)
		assert.Equal(t, "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", s.Address().Hex())
	})

	t.Run("nothing configured", func(t *testing.T) {
		_, err := LoadSigner(KeySource{})
		assert.Error(t, err)
	})

	t.Run("bad hex", func(t *testing.T) {
		_, err := LoadSigner(KeySource{RawPrivateKey: "0xzz"})
		assert.Error(t, err)
	})
}
