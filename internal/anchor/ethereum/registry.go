// Package ethereum anchors events in the DIDRegistry smart contract.
package ethereum

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	goethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"didledger/internal/anchor"
	"didledger/internal/did/keys"
	"didledger/internal/did/models"
)

// RegistryABI is the DIDRegistry interface the gateway calls. register, store
// and getStatus match the deployed bridge; deactivate is this registry's own
// extension.
const RegistryABI = `[
	{"type":"function","name":"register","stateMutability":"nonpayable",
	 "inputs":[{"name":"did","type":"string"},{"name":"publicKey","type":"bytes"}],"outputs":[]},
	{"type":"function","name":"store","stateMutability":"nonpayable",
	 "inputs":[{"name":"document","type":"string"}],"outputs":[]},
	{"type":"function","name":"deactivate","stateMutability":"nonpayable",
	 "inputs":[{"name":"did","type":"string"}],"outputs":[]},
	{"type":"function","name":"getStatus","stateMutability":"view",
	 "inputs":[{"name":"did","type":"string"}],"outputs":[{"name":"","type":"bool"}]}
]`

const receiptPollInterval = time.Second

// Config locates the chain, the contract and the account paying for transactions.
type Config struct {
	RPCURL          string
	ContractAddress string
	ChainID         int64
	PrivateKeyHex   string
}

// Gateway submits one contract transaction per event and waits for its receipt.
type Gateway struct {
	client   *ethclient.Client
	contract *bind.BoundContract
	key      *ecdsa.PrivateKey
	chainID  *big.Int
}

var parsedABI = mustParseABI()

func mustParseABI() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(RegistryABI))
	if err != nil {
		panic(fmt.Sprintf("ethereum: parse registry ABI: %v", err))
	}
	return parsed
}

// Dial connects to the RPC endpoint and binds the registry contract.
func Dial(ctx context.Context, cfg Config) (*Gateway, error) {
	if cfg.RPCURL == "" || cfg.ContractAddress == "" {
		return nil, errors.New("ethereum: RPC URL and contract address are required")
	}
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("ethereum: invalid contract address %q", cfg.ContractAddress)
	}
	// Without a key the gateway can only read status.
	var key *ecdsa.PrivateKey
	if cfg.PrivateKeyHex != "" {
		var err error
		if key, err = crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKeyHex, "0x")); err != nil {
			return nil, fmt.Errorf("ethereum: parse private key: %w", err)
		}
	}

	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("ethereum: dial %s: %w", cfg.RPCURL, err)
	}
	chainID := big.NewInt(cfg.ChainID)
	if cfg.ChainID == 0 && key != nil {
		if chainID, err = client.ChainID(ctx); err != nil {
			client.Close()
			return nil, fmt.Errorf("ethereum: query chain id: %w", err)
		}
	}

	contract := bind.NewBoundContract(common.HexToAddress(cfg.ContractAddress), parsedABI, client, client, client)
	return &Gateway{client: client, contract: contract, key: key, chainID: chainID}, nil
}

func (g *Gateway) Name() string { return "ethereum" }

// Anchor maps the event onto the matching contract call.
func (g *Gateway) Anchor(ctx context.Context, ev anchor.Event) error {
	if g.key == nil {
		return errors.New("ethereum: gateway is read-only, no private key configured")
	}
	method, args, err := CallFor(ev)
	if err != nil {
		return err
	}
	opts, err := bind.NewKeyedTransactorWithChainID(g.key, g.chainID)
	if err != nil {
		return fmt.Errorf("ethereum: build transactor: %w", err)
	}
	opts.Context = ctx

	tx, err := g.contract.Transact(opts, method, args...)
	if err != nil {
		return fmt.Errorf("ethereum: %s %s: %w", method, ev.DID, err)
	}
	receipt, err := g.waitMined(ctx, tx)
	if err != nil {
		return err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("ethereum: %s %s reverted in tx %s", method, ev.DID, tx.Hash().Hex())
	}
	return nil
}

// Status reports whether the registry considers did active.
func (g *Gateway) Status(ctx context.Context, did string) (bool, error) {
	var out []any
	if err := g.contract.Call(&bind.CallOpts{Context: ctx}, &out, "getStatus", did); err != nil {
		return false, fmt.Errorf("ethereum: getStatus %s: %w", did, err)
	}
	if len(out) != 1 {
		return false, fmt.Errorf("ethereum: getStatus returned %d values", len(out))
	}
	active, ok := out[0].(bool)
	if !ok {
		return false, fmt.Errorf("ethereum: getStatus returned %T", out[0])
	}
	return active, nil
}

// Close releases the RPC connection.
func (g *Gateway) Close() {
	g.client.Close()
}

func (g *Gateway) waitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()
	for {
		receipt, err := g.client.TransactionReceipt(ctx, tx.Hash())
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, goethereum.NotFound) {
			return nil, fmt.Errorf("ethereum: receipt for %s: %w", tx.Hash().Hex(), err)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("ethereum: waiting for %s: %w", tx.Hash().Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

// CallFor returns the contract method and arguments for an event.
func CallFor(ev anchor.Event) (string, []any, error) {
	switch ev.Kind {
	case models.OperationCreate:
		pub, err := keys.DecodePublicKey(ev.PublicKeyBase58)
		if err != nil {
			return "", nil, fmt.Errorf("ethereum: event %s: %w", ev.ID, err)
		}
		return "register", []any{ev.DID, []byte(pub)}, nil
	case models.OperationUpdate:
		// store takes the whole document; the DID travels inside it.
		if ev.Document == nil {
			return "", nil, fmt.Errorf("ethereum: event %s carries no document", ev.ID)
		}
		body, err := json.Marshal(ev.Document)
		if err != nil {
			return "", nil, fmt.Errorf("ethereum: marshal document: %w", err)
		}
		return "store", []any{string(body)}, nil
	case models.OperationDeactivate:
		return "deactivate", []any{ev.DID}, nil
	default:
		return "", nil, fmt.Errorf("ethereum: event %s: unknown kind %q", ev.ID, ev.Kind)
	}
}
