package chainsource

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/TEENet-io/watchwallet/common"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	logger "github.com/sirupsen/logrus"
)

const DEFAULT_HTTP_TIMEOUT = 30 * time.Second

// HttpSource fetches blocks from a gateway (see NewGateway).
// View keys never leave the process; detection happens locally.
type HttpSource struct {
	baseURL string
	client  *http.Client
}

func NewHttpSource(baseURL string, timeout time.Duration) *HttpSource {
	if timeout <= 0 {
		timeout = DEFAULT_HTTP_TIMEOUT
	}
	return &HttpSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (s *HttpSource) OpenSession(ctx context.Context, keys []WatchKey) (Session, error) {
	// ask the gateway for its tip so a dead endpoint fails at open time.
	if _, err := s.TipHeight(ctx); err != nil {
		return nil, err
	}
	logger.WithFields(logger.Fields{
		"url":  s.baseURL,
		"keys": len(keys),
	}).Debug("opened http block source session")
	return &httpSession{src: s}, nil
}

func (s *HttpSource) HeaderHash(ctx context.Context, height uint64) (chainhash.Hash, bool, error) {
	var header jsonHeader
	status, err := s.getJSON(ctx, "/headers/"+strconv.FormatUint(height, 10), &header)
	if err != nil {
		if status == http.StatusNotFound {
			return chainhash.Hash{}, false, nil
		}
		return chainhash.Hash{}, false, err
	}
	hash, err := common.HashFromStr(header.Hash)
	if err != nil {
		return chainhash.Hash{}, false, err
	}
	return hash, true, nil
}

func (s *HttpSource) TipHeight(ctx context.Context) (uint64, error) {
	var tip jsonTip
	if _, err := s.getJSON(ctx, ROUTE_TIP, &tip); err != nil {
		return 0, err
	}
	return tip.Height, nil
}

func (s *HttpSource) fetch(ctx context.Context, start uint64, count uint64) (*Batch, error) {
	path := fmt.Sprintf("%s?start=%d&count=%d", ROUTE_BLOCKS, start, count)
	var resp jsonBatch
	if _, err := s.getJSON(ctx, path, &resp); err != nil {
		return nil, err
	}

	batch := &Batch{MoreBlocks: resp.MoreBlocks}
	for i := range resp.Blocks {
		b, err := resp.Blocks[i].decode()
		if err != nil {
			return nil, err
		}
		batch.Blocks = append(batch.Blocks, b)
	}
	return batch, nil
}

// getJSON returns the http status alongside any error so callers can tell 404 apart.
func (s *HttpSource) getJSON(ctx context.Context, path string, v interface{}) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path, nil)
	if err != nil {
		return 0, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return resp.StatusCode, fmt.Errorf("gateway %s returned %d: %s", path, resp.StatusCode, string(body))
	}
	if err := json.Unmarshal(body, v); err != nil {
		return resp.StatusCode, fmt.Errorf("failed to decode gateway response: %v", err)
	}
	return resp.StatusCode, nil
}

type httpSession struct {
	src    *HttpSource
	closed bool
}

func (s *httpSession) Fetch(ctx context.Context, startHeight uint64, count uint64) (*Batch, error) {
	if s.closed {
		return nil, ErrSessionClosed
	}
	return s.src.fetch(ctx, startHeight, count)
}

func (s *httpSession) Close() error {
	s.closed = true
	return nil
}
