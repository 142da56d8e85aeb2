package chainsource

import (
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	logger "github.com/sirupsen/logrus"
	"golang.org/x/crypto/blake2b"
)

var (
	tagDomain  = []byte("watchwallet/output-tag")
	maskDomain = []byte("watchwallet/value-mask")
)

// ECDHDetector recognises outputs paid to a view key's public point.
// The sender picks an ephemeral key r and publishes R = rG; the owner of view
// key v recomputes the shared secret vR = rV and checks the output tag.
type ECDHDetector struct{}

func NewECDHDetector() *ECDHDetector {
	return &ECDHDetector{}
}

func (d *ECDHDetector) Detect(block *Block, keys []WatchKey) map[int64]*AccountDetection {
	found := make(map[int64]*AccountDetection)
	get := func(accountID int64) *AccountDetection {
		det, ok := found[accountID]
		if !ok {
			det = &AccountDetection{}
			found[accountID] = det
		}
		return det
	}

	for i := range block.Outputs {
		out := &block.Outputs[i]
		for _, key := range keys {
			value, ok := openOutput(key.ViewKey, out)
			if !ok {
				continue
			}
			det := get(key.AccountID)
			det.Outputs = append(det.Outputs, DetectedOutput{Hash: out.Hash, Value: value})
			break
		}
	}

	for i := range block.Inputs {
		spent := &block.Inputs[i].Spent
		for _, key := range keys {
			if _, ok := openOutput(key.ViewKey, spent); !ok {
				continue
			}
			det := get(key.AccountID)
			det.Inputs = append(det.Inputs, DetectedInput{OutputHash: spent.Hash})
			break
		}
	}

	return found
}

func openOutput(viewKey *btcec.PrivateKey, out *CipherOutput) (uint64, bool) {
	ephemeral, err := btcec.ParsePubKey(out.EphemeralKey)
	if err != nil {
		logger.WithFields(logger.Fields{
			"output": out.Hash.String(),
			"error":  err,
		}).Debug("skipping output with malformed ephemeral key")
		return 0, false
	}

	shared := btcec.GenerateSharedSecret(viewKey, ephemeral)
	if deriveTag(shared) != out.Tag {
		return 0, false
	}

	mask := deriveMask(shared)
	var plain [MASKED_SIZE]byte
	for i := range plain {
		plain[i] = out.Masked[i] ^ mask[i]
	}
	return binary.BigEndian.Uint64(plain[:]), true
}

// PayTo builds an output of value that only the owner of pub's view key can detect.
func PayTo(pub *btcec.PublicKey, value uint64) (CipherOutput, error) {
	ephemeral, err := btcec.NewPrivateKey()
	if err != nil {
		return CipherOutput{}, fmt.Errorf("failed to create ephemeral key: %v", err)
	}
	shared := btcec.GenerateSharedSecret(ephemeral, pub)

	out := CipherOutput{
		EphemeralKey: ephemeral.PubKey().SerializeCompressed(),
		Tag:          deriveTag(shared),
	}

	var plain [MASKED_SIZE]byte
	binary.BigEndian.PutUint64(plain[:], value)
	mask := deriveMask(shared)
	for i := range plain {
		out.Masked[i] = plain[i] ^ mask[i]
	}
	out.Hash = outputHash(&out)

	return out, nil
}

// SpendOf returns the input that spends out.
func SpendOf(out CipherOutput) CipherInput {
	return CipherInput{Spent: out}
}

func deriveTag(shared []byte) [TAG_SIZE]byte {
	return keyedSum(shared, tagDomain)
}

func deriveMask(shared []byte) [MASKED_SIZE]byte {
	sum := keyedSum(shared, maskDomain)
	var mask [MASKED_SIZE]byte
	copy(mask[:], sum[:MASKED_SIZE])
	return mask
}

func keyedSum(key []byte, domain []byte) [32]byte {
	h, err := blake2b.New256(key)
	if err != nil {
		// key longer than 64 bytes; shared secrets are 32.
		panic(err)
	}
	h.Write(domain)
	var sum [32]byte
	copy(sum[:], h.Sum(nil))
	return sum
}

func outputHash(out *CipherOutput) chainhash.Hash {
	buf := make([]byte, 0, len(out.EphemeralKey)+TAG_SIZE+MASKED_SIZE)
	buf = append(buf, out.EphemeralKey...)
	buf = append(buf, out.Tag[:]...)
	buf = append(buf, out.Masked[:]...)
	return chainhash.HashH(buf)
}
