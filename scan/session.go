package scan

import (
	"context"
	"encoding/binary"
	"sort"

	"github.com/TEENet-io/watchwallet/chainsource"
	logger "github.com/sirupsen/logrus"
	"golang.org/x/crypto/blake2b"
)

// ScannedBlock is a fetched block with what each watched account owns in it.
type ScannedBlock struct {
	Block      *chainsource.Block
	Detections map[int64]*chainsource.AccountDetection
}

type ScannedBatch struct {
	Blocks     []*ScannedBlock
	MoreBlocks bool
}

// KeySetSignature identifies a watch key set independent of its order.
func KeySetSignature(keys []chainsource.WatchKey) [32]byte {
	sorted := make([]chainsource.WatchKey, len(keys))
	copy(sorted, keys)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].AccountID < sorted[j].AccountID })

	h, _ := blake2b.New256(nil)
	var id [8]byte
	for _, k := range sorted {
		binary.BigEndian.PutUint64(id[:], uint64(k.AccountID))
		h.Write(id[:])
		h.Write(k.ViewKey.PubKey().SerializeCompressed())
	}
	var sig [32]byte
	copy(sig[:], h.Sum(nil))
	return sig
}

// SessionManager keeps one block source session open for as long as the
// active key set stays the same.
type SessionManager struct {
	source   chainsource.BlockSource
	detector chainsource.OutputDetector

	session   chainsource.Session
	signature [32]byte
	opened    int
}

func NewSessionManager(source chainsource.BlockSource, detector chainsource.OutputDetector) *SessionManager {
	return &SessionManager{source: source, detector: detector}
}

func (m *SessionManager) sessionFor(ctx context.Context, keys []chainsource.WatchKey) (chainsource.Session, error) {
	sig := KeySetSignature(keys)
	if m.session != nil && sig == m.signature {
		return m.session, nil
	}
	m.Close()

	s, err := m.source.OpenSession(ctx, keys)
	if err != nil {
		return nil, err
	}
	m.session = s
	m.signature = sig
	m.opened++
	logger.WithField("accounts", len(keys)).Debug("block source session opened")
	return s, nil
}

// Fetch returns up to count blocks from start, with detections for keys.
// A failed fetch drops the session so the next call reconnects.
func (m *SessionManager) Fetch(ctx context.Context, start, count uint64, keys []chainsource.WatchKey) (*ScannedBatch, error) {
	s, err := m.sessionFor(ctx, keys)
	if err != nil {
		return nil, err
	}
	batch, err := s.Fetch(ctx, start, count)
	if err != nil {
		m.Close()
		return nil, err
	}

	res := &ScannedBatch{
		Blocks:     make([]*ScannedBlock, 0, len(batch.Blocks)),
		MoreBlocks: batch.MoreBlocks,
	}
	for _, b := range batch.Blocks {
		res.Blocks = append(res.Blocks, &ScannedBlock{
			Block:      b,
			Detections: m.detector.Detect(b, keys),
		})
	}
	return res, nil
}

// Opened is the number of sessions opened so far.
func (m *SessionManager) Opened() int {
	return m.opened
}

func (m *SessionManager) Close() {
	if m.session == nil {
		return
	}
	if err := m.session.Close(); err != nil {
		logger.WithField("error", err).Warn("failed to close block source session")
	}
	m.session = nil
	m.signature = [32]byte{}
}
