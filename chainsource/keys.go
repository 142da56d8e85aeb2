package chainsource

import (
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"golang.org/x/crypto/blake2b"
)

const VIEW_KEY_SIZE = 32

func NewViewKey() (*btcec.PrivateKey, error) {
	return btcec.NewPrivateKey()
}

// ParseViewKey loads a view key from its 32-byte scalar encoding.
func ParseViewKey(b []byte) (*btcec.PrivateKey, error) {
	if len(b) != VIEW_KEY_SIZE {
		return nil, fmt.Errorf("view key must be %d bytes, got %d", VIEW_KEY_SIZE, len(b))
	}
	key, _ := btcec.PrivKeyFromBytes(b)
	if key.Key.IsZero() {
		return nil, fmt.Errorf("view key is zero")
	}
	return key, nil
}

// DeriveChildViewKey derives the view key of sub-account index from its parent:
// child = parent + blake2b(parentPub || index) mod n.
func DeriveChildViewKey(parent *btcec.PrivateKey, index uint32) (*btcec.PrivateKey, error) {
	var idx [4]byte
	binary.BigEndian.PutUint32(idx[:], index)
	tweak := blake2b.Sum256(append(parent.PubKey().SerializeCompressed(), idx[:]...))

	var t btcec.ModNScalar
	if overflow := t.SetBytes(&tweak); overflow != 0 {
		return nil, fmt.Errorf("tweak overflows curve order for index %d", index)
	}

	k := parent.Key
	k.Add(&t)
	if k.IsZero() {
		return nil, fmt.Errorf("derived key is zero for index %d", index)
	}

	b := k.Bytes()
	child, _ := btcec.PrivKeyFromBytes(b[:])
	return child, nil
}

// AccountAddress is the display address of an account's public view key.
func AccountAddress(pub *btcec.PublicKey, params *chaincfg.Params) (string, error) {
	addr, err := btcutil.NewAddressPubKey(pub.SerializeCompressed(), params)
	if err != nil {
		return "", err
	}
	return addr.EncodeAddress(), nil
}

// NetworkParams maps a network name to its chain parameters, defaulting to regtest.
func NetworkParams(name string) *chaincfg.Params {
	switch name {
	case "mainnet":
		return &chaincfg.MainNetParams
	case "testnet":
		return &chaincfg.TestNet3Params
	case "simnet":
		return &chaincfg.SimNetParams
	default:
		return &chaincfg.RegressionNetParams
	}
}
