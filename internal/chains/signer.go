package chains

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"math/big"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// TxArgs is the eth_sendTransaction parameter object.
type TxArgs struct {
	From                 *common.Address `json:"from,omitempty"`
	To                   *common.Address `json:"to,omitempty"`
	Gas                  *hexutil.Uint64 `json:"gas,omitempty"`
	GasPrice             *hexutil.Big    `json:"gasPrice,omitempty"`
	MaxFeePerGas         *hexutil.Big    `json:"maxFeePerGas,omitempty"`
	MaxPriorityFeePerGas *hexutil.Big    `json:"maxPriorityFeePerGas,omitempty"`
	Value                *hexutil.Big    `json:"value,omitempty"`
	Nonce                *hexutil.Uint64 `json:"nonce,omitempty"`
	Data                 *hexutil.Bytes  `json:"data,omitempty"`
	Input                *hexutil.Bytes  `json:"input,omitempty"`
}

// LocalSigner signs with an in-process key and submits through the node.
// Methods it does not sign itself are forwarded unchanged.
type LocalSigner struct {
	rpc  *rpc.Client
	eth  *ethclient.Client
	key  *ecdsa.PrivateKey
	addr common.Address
}

func NewLocalSigner(c *rpc.Client, key *ecdsa.PrivateKey) *LocalSigner {
	return &LocalSigner{
		rpc:  c,
		eth:  ethclient.NewClient(c),
		key:  key,
		addr: crypto.PubkeyToAddress(key.PublicKey),
	}
}

func (s *LocalSigner) Address() common.Address { return s.addr }

func (s *LocalSigner) Close() { s.rpc.Close() }

func (s *LocalSigner) SignedCall(ctx context.Context, method string, params []json.RawMessage) (json.RawMessage, error) {
	var (
		out any
		err error
	)
	switch method {
	case "eth_sendTransaction":
		out, err = s.sendTransaction(ctx, params)
	case "eth_signTransaction":
		out, err = s.signTransaction(ctx, params)
	case "personal_sign":
		out, err = s.personalSign(params)
	case "eth_sign":
		out, err = s.ethSign(params)
	case "eth_signTypedData_v4":
		out, err = s.signTypedData(params)
	default:
		return forward(ctx, s.rpc, method, params)
	}
	if err != nil {
		return nil, clientErr(method, err)
	}
	b, err := json.Marshal(out)
	if err != nil {
		return nil, clientErr(method, errors.Wrap(err, "encode result"))
	}
	return b, nil
}

func (s *LocalSigner) sendTransaction(ctx context.Context, params []json.RawMessage) (common.Hash, error) {
	tx, err := s.buildSignedTx(ctx, params)
	if err != nil {
		return common.Hash{}, err
	}
	if err := s.eth.SendTransaction(ctx, tx); err != nil {
		return common.Hash{}, errors.Wrap(err, "send transaction")
	}
	return tx.Hash(), nil
}

func (s *LocalSigner) signTransaction(ctx context.Context, params []json.RawMessage) (hexutil.Bytes, error) {
	tx, err := s.buildSignedTx(ctx, params)
	if err != nil {
		return nil, err
	}
	raw, err := tx.MarshalBinary()
	if err != nil {
		return nil, errors.Wrap(err, "encode transaction")
	}
	return raw, nil
}

func (s *LocalSigner) buildSignedTx(ctx context.Context, params []json.RawMessage) (*types.Transaction, error) {
	if len(params) < 1 {
		return nil, invalidParams("missing transaction object")
	}
	var args TxArgs
	if err := json.Unmarshal(params[0], &args); err != nil {
		return nil, invalidParams("transaction object: %v", err)
	}
	if args.From != nil && *args.From != s.addr {
		return nil, errors.Wrapf(ErrAddressMismatch, "from %s", args.From.Hex())
	}

	chainID, err := s.eth.ChainID(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get chainId")
	}

	var nonce uint64
	if args.Nonce != nil {
		nonce = uint64(*args.Nonce)
	} else if nonce, err = s.eth.PendingNonceAt(ctx, s.addr); err != nil {
		return nil, errors.Wrap(err, "failed to get nonce")
	}

	value := new(big.Int)
	if args.Value != nil {
		value = args.Value.ToInt()
	}
	var data []byte
	switch {
	case args.Input != nil:
		data = *args.Input
	case args.Data != nil:
		data = *args.Data
	}

	var gas uint64
	if args.Gas != nil {
		gas = uint64(*args.Gas)
	} else {
		gas, err = s.eth.EstimateGas(ctx, ethereum.CallMsg{From: s.addr, To: args.To, Value: value, Data: data})
		if err != nil {
			return nil, errors.Wrap(err, "estimateGas failed")
		}
	}

	var tx *types.Transaction
	if args.MaxFeePerGas != nil || args.MaxPriorityFeePerGas != nil {
		tip, feeCap, err := s.dynamicFees(ctx, args)
		if err != nil {
			return nil, err
		}
		tx = types.NewTx(&types.DynamicFeeTx{
			ChainID:   chainID,
			Nonce:     nonce,
			Gas:       gas,
			To:        args.To,
			Value:     value,
			Data:      data,
			GasTipCap: tip,
			GasFeeCap: feeCap,
		})
	} else {
		gasPrice, err := s.legacyGasPrice(ctx, args)
		if err != nil {
			return nil, err
		}
		tx = types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			Gas:      gas,
			GasPrice: gasPrice,
			To:       args.To,
			Value:    value,
			Data:     data,
		})
	}

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), s.key)
	if err != nil {
		return nil, errors.Wrap(err, "sign transaction")
	}
	return signed, nil
}

func (s *LocalSigner) legacyGasPrice(ctx context.Context, args TxArgs) (*big.Int, error) {
	if args.GasPrice != nil {
		return args.GasPrice.ToInt(), nil
	}
	p, err := s.eth.SuggestGasPrice(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "suggest gas price")
	}
	return p, nil
}

func (s *LocalSigner) dynamicFees(ctx context.Context, args TxArgs) (tip, feeCap *big.Int, err error) {
	if args.MaxPriorityFeePerGas != nil {
		tip = args.MaxPriorityFeePerGas.ToInt()
	} else if tip, err = s.eth.SuggestGasTipCap(ctx); err != nil {
		return nil, nil, errors.Wrap(err, "suggest gas tip")
	}
	if args.MaxFeePerGas != nil {
		feeCap = args.MaxFeePerGas.ToInt()
	} else {
		price, err := s.eth.SuggestGasPrice(ctx)
		if err != nil {
			return nil, nil, errors.Wrap(err, "suggest gas price")
		}
		feeCap = new(big.Int).Add(price, tip)
	}
	if feeCap.Cmp(tip) < 0 {
		return nil, nil, invalidParams("maxFeePerGas below maxPriorityFeePerGas")
	}
	return tip, feeCap, nil
}

// personal_sign takes [message, address].
func (s *LocalSigner) personalSign(params []json.RawMessage) (hexutil.Bytes, error) {
	if len(params) < 2 {
		return nil, invalidParams("personal_sign wants [message, address]")
	}
	msg, err := decodeMessage(params[0])
	if err != nil {
		return nil, err
	}
	if err := s.checkAddress(params[1]); err != nil {
		return nil, err
	}
	return s.signDigest(accounts.TextHash(msg))
}

// eth_sign takes [address, message].
func (s *LocalSigner) ethSign(params []json.RawMessage) (hexutil.Bytes, error) {
	if len(params) < 2 {
		return nil, invalidParams("eth_sign wants [address, message]")
	}
	if err := s.checkAddress(params[0]); err != nil {
		return nil, err
	}
	msg, err := decodeMessage(params[1])
	if err != nil {
		return nil, err
	}
	return s.signDigest(accounts.TextHash(msg))
}

// eth_signTypedData_v4 takes [address, typedData] where typedData is a JSON
// object or a string holding one.
func (s *LocalSigner) signTypedData(params []json.RawMessage) (hexutil.Bytes, error) {
	if len(params) < 2 {
		return nil, invalidParams("eth_signTypedData_v4 wants [address, typedData]")
	}
	if err := s.checkAddress(params[0]); err != nil {
		return nil, err
	}
	raw := []byte(params[1])
	var asString string
	if err := json.Unmarshal(params[1], &asString); err == nil {
		raw = []byte(asString)
	}
	digest, err := TypedDataDigestV4(raw)
	if err != nil {
		return nil, invalidParams("%v", err)
	}
	return s.signDigest(digest)
}

func (s *LocalSigner) checkAddress(raw json.RawMessage) error {
	var a string
	if err := json.Unmarshal(raw, &a); err != nil || !common.IsHexAddress(a) {
		return invalidParams("bad address %s", string(raw))
	}
	if common.HexToAddress(a) != s.addr {
		return errors.Wrapf(ErrAddressMismatch, "%s", a)
	}
	return nil
}

// signDigest returns a 65-byte signature with V in {27, 28}.
func (s *LocalSigner) signDigest(digest []byte) (hexutil.Bytes, error) {
	sig, err := crypto.Sign(digest, s.key)
	if err != nil {
		return nil, errors.Wrap(err, "sign")
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// decodeMessage accepts 0x-hex bytes or a plain UTF-8 string.
func decodeMessage(raw json.RawMessage) ([]byte, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, invalidParams("message must be a string")
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		if b, err := hexutil.Decode(s); err == nil {
			return b, nil
		}
	}
	return []byte(s), nil
}

// TypedDataDigestV4 is keccak256("\x19\x01" || domainSeparator || hashStruct(message)).
func TypedDataDigestV4(typedDataJSON []byte) ([]byte, error) {
	var td apitypes.TypedData
	if err := json.Unmarshal(typedDataJSON, &td); err != nil {
		return nil, errors.Wrap(err, "invalid typed data json")
	}

	domainSeparator, err := td.HashStruct("EIP712Domain", td.Domain.Map())
	if err != nil {
		return nil, errors.Wrap(err, "domain hash")
	}
	msgHash, err := td.HashStruct(td.PrimaryType, td.Message)
	if err != nil {
		return nil, errors.Wrap(err, "message hash")
	}

	d := crypto.Keccak256([]byte{0x19, 0x01}, domainSeparator, msgHash)
	if len(d) != 32 {
		return nil, errors.Newf("unexpected digest length %d", len(d))
	}
	return d, nil
}
