package rollupclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/privrollup/walletd/internal/core/domain"
	"github.com/privrollup/walletd/internal/core/ports"
	log "github.com/sirupsen/logrus"
)

const defaultTimeout = 30 * time.Second

type client struct {
	url        string
	httpClient *http.Client
}

// NewClient returns a client of the rollup provider REST api at the given
// url.
func NewClient(serverUrl string) (ports.RollupProvider, error) {
	if _, err := url.ParseRequestURI(serverUrl); err != nil {
		return nil, fmt.Errorf("invalid rollup provider url: %w", err)
	}
	return &client{
		url:        strings.TrimSuffix(serverUrl, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}, nil
}

func (c *client) SendProofs(ctx context.Context, proofs []domain.ProofOutput) ([]string, error) {
	req := sendTxsRequest{Txs: make([]txRequest, 0, len(proofs))}
	for _, p := range proofs {
		req.Txs = append(req.Txs, txRequest{
			ProofData:        encodeHex(p.ProofData),
			OffchainTxData:   encodeHex(p.OffchainTxData),
			DepositSignature: encodeHex(p.Signature),
		})
	}

	var resp sendTxsResponse
	if err := c.post(ctx, "/txs", req, &resp); err != nil {
		return nil, fmt.Errorf("failed to send proofs: %w", err)
	}
	if len(resp.TxIds) != len(proofs) {
		return nil, fmt.Errorf(
			"provider returned %d tx ids for %d proofs", len(resp.TxIds), len(proofs),
		)
	}
	return resp.TxIds, nil
}

func (c *client) GetBlocks(ctx context.Context, from uint32) ([]domain.Block, error) {
	var resp getBlocksResponse
	if err := c.get(ctx, fmt.Sprintf("/get-blocks?from=%d", from), &resp); err != nil {
		return nil, fmt.Errorf("failed to get blocks: %w", err)
	}

	blocks := make([]domain.Block, 0, len(resp.Blocks))
	for _, b := range resp.Blocks {
		block, err := b.toDomain()
		if err != nil {
			return nil, fmt.Errorf("failed to decode block %d: %w", b.RollupId, err)
		}
		blocks = append(blocks, *block)
	}
	return blocks, nil
}

func (c *client) GetTxFees(ctx context.Context, assetId uint32) (*domain.TxFees, error) {
	var resp txFeesResponse
	if err := c.get(ctx, fmt.Sprintf("/tx-fees?assetId=%d", assetId), &resp); err != nil {
		return nil, fmt.Errorf("failed to get fees of asset %d: %w", assetId, err)
	}
	return &domain.TxFees{
		AssetId:    resp.AssetId,
		FeeAssetId: resp.FeeAssetId,
		Fees:       resp.Fees,
	}, nil
}

func (c *client) GetDefiFees(
	ctx context.Context, bridgeCallData domain.BridgeCallData,
) ([]domain.AssetValue, error) {
	var resp defiFeesResponse
	req := defiFeesRequest{BridgeCallData: bridgeCallData.String()}
	if err := c.post(ctx, "/defi-fees", req, &resp); err != nil {
		return nil, fmt.Errorf("failed to get defi fees: %w", err)
	}
	return resp.Fees, nil
}

func (c *client) GetStatus(ctx context.Context) (*ports.RollupStatus, error) {
	var resp statusResponse
	if err := c.get(ctx, "/status", &resp); err != nil {
		return nil, fmt.Errorf("failed to get status: %w", err)
	}
	return resp.toPort(), nil
}

func (c *client) get(ctx context.Context, endpoint string, out interface{}) error {
	return c.makeRequest(ctx, http.MethodGet, endpoint, nil, out)
}

func (c *client) post(ctx context.Context, endpoint string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	return c.makeRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(body), out)
}

func (c *client) makeRequest(
	ctx context.Context, method, endpoint string, body io.Reader, out interface{},
) error {
	req, err := http.NewRequestWithContext(ctx, method, c.url+endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	// nolint:errcheck
	defer resp.Body.Close()

	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(buf)))
	}

	log.Tracef("%s %s -> %d bytes", method, endpoint, len(buf))
	if err := json.Unmarshal(buf, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
