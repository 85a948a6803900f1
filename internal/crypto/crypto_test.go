package crypto

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKeyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestLoadRawKey(t *testing.T) {
	key, err := LoadKey(KeySource{RawPrivateKey: "0x" + testKeyHex})
	require.NoError(t, err)
	assert.Equal(t, "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23", ethcrypto.PubkeyToAddress(key.PublicKey).Hex())

	_, err = LoadKey(KeySource{RawPrivateKey: "zz"})
	assert.Error(t, err)
	_, err = LoadKey(KeySource{})
	assert.Error(t, err)
}

func TestEncryptedKeyFile(t *testing.T) {
	key, err := ethcrypto.HexToECDSA(testKeyHex)
	require.NoError(t, err)

	data, err := EncryptKey(key, "hunter2")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "operator.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	loaded, err := LoadKey(KeySource{EncryptedKeyPath: path, KeyPassword: "hunter2"})
	require.NoError(t, err)
	assert.Equal(t, key.D, loaded.D)

	_, err = LoadKey(KeySource{EncryptedKeyPath: path, KeyPassword: "wrong"})
	assert.Error(t, err)
}

func TestSignerSignTx(t *testing.T) {
	key, err := ethcrypto.HexToECDSA(testKeyHex)
	require.NoError(t, err)
	s, err := NewSigner(key, big.NewInt(1))
	require.NoError(t, err)

	to := common.HexToAddress("0x87870Bca3F3fD6335C3F4ce8392D69350B4fA4E2")
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   big.NewInt(1),
		Nonce:     7,
		GasTipCap: big.NewInt(1),
		GasFeeCap: big.NewInt(2),
		Gas:       21_000,
		To:        &to,
		Value:     big.NewInt(0),
	})
	signed, err := s.SignTx(tx)
	require.NoError(t, err)

	from, err := s.Sender(signed)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), from)
}
