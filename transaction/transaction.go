package transaction

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/mezonai/mmnchain/common"
	"github.com/mezonai/mmnchain/jsonx"
	"github.com/mezonai/mmnchain/logx"
)

// Senders that mint value instead of spending inputs.
const (
	SenderCoinbase = "COINBASE"
	SenderGenesis  = "GENESIS"
	SenderSystem   = "SYSTEM"
)

// Limits to prevent DoS via oversized inputs
const (
	maxSignatureBase58Len = 2048
	MaxInputs             = 1024
	MaxOutputs            = 1024
)

// OutPoint references one output of an earlier transaction.
type OutPoint struct {
	TxID  string `json:"tx_id"`
	Index uint32 `json:"index"`
}

func (o OutPoint) String() string {
	return fmt.Sprintf("%s:%d", o.TxID, o.Index)
}

type TxInput struct {
	PrevOut OutPoint `json:"prev_out"`
}

type TxOutput struct {
	Address string       `json:"address"`
	Amount  *uint256.Int `json:"amount"`
}

type Transaction struct {
	Sender    string     `json:"sender"`
	Inputs    []TxInput  `json:"inputs"`
	Outputs   []TxOutput `json:"outputs"`
	Timestamp uint64     `json:"timestamp"`
	Nonce     uint64     `json:"nonce"`
	TextData  string     `json:"text_data,omitempty"`
	Signature string     `json:"signature,omitempty"`
}

// IsSystem reports whether the sender mints value (coinbase, genesis, system).
func (tx *Transaction) IsSystem() bool {
	switch tx.Sender {
	case SenderCoinbase, SenderGenesis, SenderSystem:
		return true
	}
	return false
}

// signedContent is everything the signature and the id commit to.
type signedContent struct {
	Sender    string     `json:"sender"`
	Inputs    []OutPoint `json:"inputs"`
	Outputs   []TxOutput `json:"outputs"`
	Timestamp uint64     `json:"timestamp"`
	Nonce     uint64     `json:"nonce"`
	TextData  string     `json:"text_data"`
}

// Serialize is the signed payload: canonical JSON of every field except
// Signature. Strings are quoted and escaped, so distinct transactions never
// share a payload.
func (tx *Transaction) Serialize() []byte {
	content := signedContent{
		Sender:    tx.Sender,
		Inputs:    make([]OutPoint, len(tx.Inputs)),
		Outputs:   make([]TxOutput, len(tx.Outputs)),
		Timestamp: tx.Timestamp,
		Nonce:     tx.Nonce,
		TextData:  tx.TextData,
	}
	for i, in := range tx.Inputs {
		content.Inputs[i] = in.PrevOut
	}
	copy(content.Outputs, tx.Outputs)
	b, err := jsonx.Marshal(content)
	if err != nil {
		logx.Error("Transaction", "failed to serialize: ", err)
		return nil
	}
	return b
}

// Hash is the transaction id: hex SHA-256 of the serialized content.
func (tx *Transaction) Hash() string {
	sum := sha256.Sum256(tx.Serialize())
	return hex.EncodeToString(sum[:])
}

// OutPoints lists the outpoints this transaction creates.
func (tx *Transaction) OutPoints() []OutPoint {
	id := tx.Hash()
	out := make([]OutPoint, len(tx.Outputs))
	for i := range tx.Outputs {
		out[i] = OutPoint{TxID: id, Index: uint32(i)}
	}
	return out
}

func (tx *Transaction) Sign(priv ed25519.PrivateKey) {
	tx.Signature = common.EncodeBytesToBase58(ed25519.Sign(priv, tx.Serialize()))
}

// Verify checks structural limits and, for non-system senders, the ed25519
// signature against the base58 sender public key.
func (tx *Transaction) Verify() bool {
	if len(tx.Inputs) > MaxInputs || len(tx.Outputs) > MaxOutputs {
		logx.Error("TransactionVerify", "too many inputs or outputs")
		return false
	}
	for _, out := range tx.Outputs {
		if out.Amount == nil || out.Address == "" {
			logx.Error("TransactionVerify", "malformed output")
			return false
		}
	}
	if tx.IsSystem() {
		return len(tx.Inputs) == 0
	}
	if tx.Signature == "" {
		logx.Error("TransactionVerify", "missing signature")
		return false
	}
	if len(tx.Signature) > maxSignatureBase58Len {
		logx.Error("TransactionVerify", "signature too large")
		return false
	}
	if len(tx.Inputs) == 0 {
		logx.Error("TransactionVerify", "non-system transaction without inputs")
		return false
	}
	signature, err := common.DecodeBase58ToBytes(tx.Signature)
	if err != nil {
		logx.Error("TransactionVerify", "failed to decode signature", err)
		return false
	}
	pub, err := common.PublicKeyFromBase58(tx.Sender, "sender")
	if err != nil {
		logx.Error("TransactionVerify", "failed to decode sender", err)
		return false
	}
	return ed25519.Verify(pub, tx.Serialize(), signature)
}

// TotalOutput sums every output amount.
func (tx *Transaction) TotalOutput() *uint256.Int {
	total := uint256.NewInt(0)
	for _, out := range tx.Outputs {
		if out.Amount != nil {
			total.Add(total, out.Amount)
		}
	}
	return total
}

func (tx *Transaction) Bytes() []byte {
	b, _ := jsonx.Marshal(tx)
	return b
}

// NewCoinbase mints reward to address; height keeps coinbase ids unique per block.
func NewCoinbase(address string, reward *uint256.Int, height uint64) *Transaction {
	return &Transaction{
		Sender:  SenderCoinbase,
		Outputs: []TxOutput{{Address: address, Amount: new(uint256.Int).Set(reward)}},
		Nonce:   height,
	}
}
