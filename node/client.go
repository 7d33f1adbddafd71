package node

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"server/conf"
)

// contractABI the slice of the blind mint contract this service talks to
const contractABI = `[
	{"name":"mintCounter","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"minterOf","type":"function","stateMutability":"view","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"address"}]},
	{"name":"claimableBalance","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"revealBatch","type":"function","stateMutability":"nonpayable","inputs":[{"name":"tokenIds","type":"uint256[]"},{"name":"metadataURIs","type":"string[]"}],"outputs":[]}
]`

// Client typed wrapper for the contract reads and the batch reveal submission
type Client struct {
	eth      *ethclient.Client
	abi      abi.ABI
	contract common.Address
	signer   types.Signer
	key      *ecdsa.PrivateKey
	operator common.Address
}

// Dial connects a client to the given URL, signing with the operator key
func Dial(rawurl string) (*Client, error) {
	eth, err := ethclient.Dial(rawurl)
	if err != nil {
		return nil, err
	}
	parsed, err := abi.JSON(strings.NewReader(contractABI))
	if err != nil {
		return nil, err
	}
	return &Client{
		eth:      eth,
		abi:      parsed,
		contract: conf.Contract,
		signer:   types.NewEIP155Signer(big.NewInt(conf.ChainId)),
		key:      conf.PrivateKey,
		operator: crypto.PubkeyToAddress(conf.PrivateKey.PublicKey),
	}, nil
}

func (c *Client) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, err
	}
	ret, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &c.contract, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("%s call failed: %w", method, err)
	}
	return c.abi.Unpack(method, ret)
}

// MintCounter the contract's monotonic counter of assigned token ids
func (c *Client) MintCounter(ctx context.Context) (uint64, error) {
	out, err := c.call(ctx, "mintCounter")
	if err != nil {
		return 0, err
	}
	return out[0].(*big.Int).Uint64(), nil
}

// MinterOf the author address bound to a token id
func (c *Client) MinterOf(ctx context.Context, tokenId uint64) (string, error) {
	out, err := c.call(ctx, "minterOf", new(big.Int).SetUint64(tokenId))
	if err != nil {
		return "", err
	}
	return strings.ToLower(out[0].(common.Address).Hex()), nil
}

// ClaimableBalance an author's unclaimed payout balance in wei
func (c *Client) ClaimableBalance(ctx context.Context, account string) (*big.Int, error) {
	out, err := c.call(ctx, "claimableBalance", common.HexToAddress(account))
	if err != nil {
		return nil, err
	}
	return out[0].(*big.Int), nil
}

// ChainId the connected network id, checked against conf at startup
func (c *Client) ChainId(ctx context.Context) (*big.Int, error) {
	return c.eth.ChainID(ctx)
}

// BlockNumber current head, used by the health endpoint
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	return c.eth.BlockNumber(ctx)
}

// Submission one signed and sent reveal transaction
type Submission struct {
	TxHash   string
	GasLimit uint64
	GasPrice *big.Int
}

// SubmitReveal packs, prices and signs one transaction revealing every batch
// member atomically. The nonce is fetched immediately before signing to avoid
// staleness; gas limit and price both carry the configured safety factor.
func (c *Client) SubmitReveal(ctx context.Context, tokenIds []uint64, metaUris []string) (*Submission, error) {
	if len(tokenIds) == 0 || len(tokenIds) != len(metaUris) {
		return nil, fmt.Errorf("invalid batch: %d ids, %d uris", len(tokenIds), len(metaUris))
	}
	ids := make([]*big.Int, len(tokenIds))
	for i, id := range tokenIds {
		ids[i] = new(big.Int).SetUint64(id)
	}
	data, err := c.abi.Pack("revealBatch", ids, metaUris)
	if err != nil {
		return nil, err
	}
	gas, err := c.eth.EstimateGas(ctx, ethereum.CallMsg{From: c.operator, To: &c.contract, Data: data})
	if err != nil {
		return nil, fmt.Errorf("gas estimate failed: %w", err)
	}
	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return nil, err
	}
	gas = uint64(float64(gas) * conf.GasFactor)
	gasPrice, _ = new(big.Float).Mul(new(big.Float).SetInt(gasPrice), big.NewFloat(conf.GasFactor)).Int(nil)
	nonce, err := c.eth.PendingNonceAt(ctx, c.operator)
	if err != nil {
		return nil, err
	}
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &c.contract,
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	})
	signedTx, err := types.SignTx(tx, c.signer, c.key)
	if err != nil {
		return nil, err
	}
	sub := &Submission{TxHash: signedTx.Hash().Hex(), GasLimit: gas, GasPrice: gasPrice}
	if err = c.eth.SendTransaction(ctx, signedTx); err != nil {
		return sub, fmt.Errorf("send failed: %w", err)
	}
	return sub, nil
}

// Receipt confirmation outcome of a submitted transaction
type Receipt struct {
	BlockNumber uint64
	Reverted    bool
}

// WaitConfirmed polls for the inclusion receipt until the context expires.
// A context timeout means the transaction may still land later, the caller
// must leave the batch members retryable.
func (c *Client) WaitConfirmed(ctx context.Context, txHash string) (*Receipt, error) {
	hash := common.HexToHash(txHash)
	ticker := time.NewTicker(3 * time.Second)
	defer ticker.Stop()
	for {
		receipt, err := c.eth.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return &Receipt{
				BlockNumber: receipt.BlockNumber.Uint64(),
				Reverted:    receipt.Status == types.ReceiptStatusFailed,
			}, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("confirmation wait expired for %s: %w", txHash, ctx.Err())
		case <-ticker.C:
		}
	}
}
