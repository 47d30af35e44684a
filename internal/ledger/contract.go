package ledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/angelmondragon/certledger-backend/pkg/config"
)

const registryABI = `[
  {"type":"function","name":"issueCertificate","stateMutability":"nonpayable","inputs":[
    {"name":"id","type":"string"},{"name":"studentName","type":"string"},{"name":"courseName","type":"string"},
    {"name":"instituteName","type":"string"},{"name":"issueDate","type":"uint256"},{"name":"certificateHash","type":"string"}],"outputs":[]},
  {"type":"function","name":"verifyCertificate","stateMutability":"view","inputs":[{"name":"id","type":"string"}],"outputs":[
    {"name":"studentName","type":"string"},{"name":"courseName","type":"string"},{"name":"instituteName","type":"string"},
    {"name":"issueDate","type":"uint256"},{"name":"certificateHash","type":"string"},{"name":"isValid","type":"bool"}]},
  {"type":"function","name":"getTotalCertificates","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]}
]`

// contractChain talks to the certificate registry contract over JSON-RPC.
type contractChain struct {
	client   *ethclient.Client
	contract *bind.BoundContract
	address  common.Address
	key      *ecdsa.PrivateKey
	account  common.Address
	chainID  *big.Int
	gasLimit uint64
	gasPrice *big.Int
}

func dialContract(ctx context.Context, cfg config.LedgerConfig) (*contractChain, error) {
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("invalid contract address %q", cfg.ContractAddress)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(cfg.PrivateKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	parsed, err := abi.JSON(strings.NewReader(registryABI))
	if err != nil {
		return nil, fmt.Errorf("parse registry abi: %w", err)
	}
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.RPCURL, err)
	}

	var gasPrice *big.Int
	if raw := strings.TrimSpace(cfg.GasPriceWei); raw != "" {
		p, ok := new(big.Int).SetString(raw, 10)
		if !ok {
			client.Close()
			return nil, fmt.Errorf("invalid gas price %q", raw)
		}
		gasPrice = p
	}

	address := common.HexToAddress(cfg.ContractAddress)
	return &contractChain{
		client:   client,
		contract: bind.NewBoundContract(address, parsed, client, client, client),
		address:  address,
		key:      key,
		account:  crypto.PubkeyToAddress(key.PublicKey),
		chainID:  big.NewInt(cfg.ChainID),
		gasLimit: cfg.GasLimit,
		gasPrice: gasPrice,
	}, nil
}

func (c *contractChain) Issue(ctx context.Context, req IssueRequest) (WriteResult, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(c.key, c.chainID)
	if err != nil {
		return WriteResult{}, fmt.Errorf("transactor: %w", err)
	}
	opts.Context = ctx
	opts.GasLimit = c.gasLimit
	opts.GasPrice = c.gasPrice

	tx, err := c.contract.Transact(opts, "issueCertificate",
		req.CertificateID,
		req.SubjectName,
		req.CourseName,
		req.InstituteName,
		big.NewInt(req.IssuedAtUnix),
		req.Fingerprint,
	)
	if err != nil {
		return WriteResult{}, fmt.Errorf("submit: %w", err)
	}

	receipt, err := bind.WaitMined(ctx, c.client, tx)
	if err != nil {
		return WriteResult{}, fmt.Errorf("wait mined %s: %w", tx.Hash().Hex(), err)
	}
	if receipt.Status != 1 {
		return WriteResult{}, fmt.Errorf("transaction %s reverted", tx.Hash().Hex())
	}

	price := receipt.EffectiveGasPrice
	if price == nil {
		price = tx.GasPrice()
	}
	var height int64
	if receipt.BlockNumber != nil {
		height = receipt.BlockNumber.Int64()
	}
	return WriteResult{
		Reference:   tx.Hash().Hex(),
		BlockHeight: height,
		GasUsed:     int64(receipt.GasUsed),
		Cost:        weiCost(receipt.GasUsed, price),
	}, nil
}

// Lookup treats an empty subject or an invalid flag as "not on the ledger".
func (c *contractChain) Lookup(ctx context.Context, certificateID string) (OnChainRecord, bool, error) {
	var out []interface{}
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "verifyCertificate", certificateID); err != nil {
		return OnChainRecord{}, false, err
	}
	if len(out) != 6 {
		return OnChainRecord{}, false, fmt.Errorf("verifyCertificate returned %d values", len(out))
	}
	record := OnChainRecord{}
	record.SubjectName, _ = out[0].(string)
	record.CourseName, _ = out[1].(string)
	record.InstituteName, _ = out[2].(string)
	if issued, ok := out[3].(*big.Int); ok && issued != nil {
		record.IssuedAtUnix = issued.Int64()
	}
	record.Fingerprint, _ = out[4].(string)
	record.Valid, _ = out[5].(bool)

	if record.SubjectName == "" || !record.Valid {
		return OnChainRecord{}, false, nil
	}
	return record, true, nil
}

func (c *contractChain) BlockNumber(ctx context.Context) (uint64, error) {
	return c.client.BlockNumber(ctx)
}

func (c *contractChain) Network(ctx context.Context) (NetworkInfo, error) {
	chainID, err := c.client.ChainID(ctx)
	if err != nil {
		return NetworkInfo{}, fmt.Errorf("chain id: %w", err)
	}
	tip, err := c.client.BlockNumber(ctx)
	if err != nil {
		return NetworkInfo{}, fmt.Errorf("block number: %w", err)
	}
	price, err := c.client.SuggestGasPrice(ctx)
	if err != nil {
		return NetworkInfo{}, fmt.Errorf("gas price: %w", err)
	}
	return NetworkInfo{
		ChainID:     chainID.Int64(),
		BlockHeight: tip,
		GasPriceWei: price.String(),
		Account:     c.account.Hex(),
		Contract:    c.address.Hex(),
	}, nil
}

func (c *contractChain) Total(ctx context.Context) (uint64, error) {
	var out []interface{}
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "getTotalCertificates"); err != nil {
		return 0, err
	}
	if len(out) != 1 {
		return 0, errors.New("getTotalCertificates returned no value")
	}
	total, ok := out[0].(*big.Int)
	if !ok || total == nil {
		return 0, fmt.Errorf("unexpected total type %T", out[0])
	}
	return total.Uint64(), nil
}
