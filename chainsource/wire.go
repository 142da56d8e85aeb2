package chainsource

import (
	"encoding/hex"
	"fmt"

	"github.com/TEENet-io/watchwallet/common"
)

// json forms exchanged between HttpSource and the gateway.

type jsonOutput struct {
	Hash         string `json:"hash"`
	EphemeralKey string `json:"ephemeral_key"`
	Tag          string `json:"tag"`
	Masked       string `json:"masked"`
}

type jsonBlock struct {
	Height   uint64       `json:"height"`
	Hash     string       `json:"hash"`
	PrevHash string       `json:"prev_hash"`
	Outputs  []jsonOutput `json:"outputs"`
	Inputs   []jsonOutput `json:"inputs"`
}

type jsonBatch struct {
	Blocks     []jsonBlock `json:"blocks"`
	MoreBlocks bool        `json:"more_blocks"`
}

type jsonHeader struct {
	Height uint64 `json:"height"`
	Hash   string `json:"hash"`
}

type jsonTip struct {
	Height uint64 `json:"height"`
}

func (j *jsonOutput) encode(out *CipherOutput) {
	j.Hash = out.Hash.String()
	j.EphemeralKey = hex.EncodeToString(out.EphemeralKey)
	j.Tag = hex.EncodeToString(out.Tag[:])
	j.Masked = hex.EncodeToString(out.Masked[:])
}

func (j *jsonOutput) decode() (CipherOutput, error) {
	var out CipherOutput
	var err error

	if out.Hash, err = common.HashFromStr(j.Hash); err != nil {
		return out, err
	}
	if out.EphemeralKey, err = hex.DecodeString(j.EphemeralKey); err != nil {
		return out, fmt.Errorf("invalid ephemeral key: %w", err)
	}
	if err := decodeFixed(j.Tag, out.Tag[:]); err != nil {
		return out, fmt.Errorf("invalid tag: %w", err)
	}
	if err := decodeFixed(j.Masked, out.Masked[:]); err != nil {
		return out, fmt.Errorf("invalid masked value: %w", err)
	}
	return out, nil
}

func (j *jsonBlock) encode(b *Block) {
	j.Height = b.Height
	j.Hash = b.Hash.String()
	j.PrevHash = b.PrevHash.String()
	j.Outputs = make([]jsonOutput, len(b.Outputs))
	for i := range b.Outputs {
		j.Outputs[i].encode(&b.Outputs[i])
	}
	j.Inputs = make([]jsonOutput, len(b.Inputs))
	for i := range b.Inputs {
		j.Inputs[i].encode(&b.Inputs[i].Spent)
	}
}

func (j *jsonBlock) decode() (*Block, error) {
	b := &Block{Height: j.Height}
	var err error
	if b.Hash, err = common.HashFromStr(j.Hash); err != nil {
		return nil, err
	}
	if b.PrevHash, err = common.HashFromStr(j.PrevHash); err != nil {
		return nil, err
	}
	for i := range j.Outputs {
		out, err := j.Outputs[i].decode()
		if err != nil {
			return nil, fmt.Errorf("block %d output %d: %w", j.Height, i, err)
		}
		b.Outputs = append(b.Outputs, out)
	}
	for i := range j.Inputs {
		spent, err := j.Inputs[i].decode()
		if err != nil {
			return nil, fmt.Errorf("block %d input %d: %w", j.Height, i, err)
		}
		b.Inputs = append(b.Inputs, CipherInput{Spent: spent})
	}
	return b, nil
}

func decodeFixed(s string, dst []byte) error {
	b, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	if len(b) != len(dst) {
		return fmt.Errorf("expected %d bytes, got %d", len(dst), len(b))
	}
	copy(dst, b)
	return nil
}
