package block

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"math/bits"

	"github.com/mezonai/mmnchain/common"
	"github.com/mezonai/mmnchain/stringutil"
	"github.com/mezonai/mmnchain/transaction"
)

const (
	CurrentVersion uint32 = 1
	// MaxDifficulty is the largest meaningful leading-zero-bit requirement for a 256-bit hash.
	MaxDifficulty uint32 = 255
)

// Hash is a SHA-256 digest, JSON-encoded as lowercase hex.
type Hash [32]byte

// ZeroHash is the previous hash of the genesis block.
var ZeroHash Hash

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Short is the abbreviated form used in log lines.
func (h Hash) Short() string {
	return stringutil.Shorten(h.String())
}

func (h Hash) IsZero() bool {
	return h == ZeroHash
}

func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := HashFromHex(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

func HashFromHex(s string) (Hash, error) {
	var h Hash
	raw, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("invalid hash hex: %w", err)
	}
	if len(raw) != len(h) {
		return h, fmt.Errorf("invalid hash length: expected %d bytes, got %d", len(h), len(raw))
	}
	copy(h[:], raw)
	return h, nil
}

// LeadingZeroBits counts zero bits from the most significant end.
func (h Hash) LeadingZeroBits() int {
	n := 0
	for _, b := range h {
		if b == 0 {
			n += 8
			continue
		}
		n += bits.LeadingZeros8(b)
		break
	}
	return n
}

type BlockHeader struct {
	Index        uint64  `json:"index"`
	PreviousHash Hash    `json:"previous_hash"`
	MerkleRoot   Hash    `json:"merkle_root"`
	Timestamp    float64 `json:"timestamp"`
	Difficulty   uint32  `json:"difficulty"`
	Nonce        uint64  `json:"nonce"`
	MinerPubKey  string  `json:"miner_pubkey"`
	Version      uint32  `json:"version"`
	Hash         Hash    `json:"hash"`
	Signature    *string `json:"signature,omitempty"` // miner signature over Hash
}

// ComputeHash hashes every header field except Hash and Signature.
func (h *BlockHeader) ComputeHash() Hash {
	hasher := sha256.New()
	buf := make([]byte, 8)

	binary.BigEndian.PutUint64(buf, h.Index)
	hasher.Write(buf)
	hasher.Write(h.PreviousHash[:])
	hasher.Write(h.MerkleRoot[:])
	binary.BigEndian.PutUint64(buf, math.Float64bits(h.Timestamp))
	hasher.Write(buf)
	binary.BigEndian.PutUint32(buf[:4], h.Difficulty)
	hasher.Write(buf[:4])
	binary.BigEndian.PutUint64(buf, h.Nonce)
	hasher.Write(buf)
	binary.BigEndian.PutUint32(buf[:4], h.Version)
	hasher.Write(buf[:4])
	binary.BigEndian.PutUint32(buf[:4], uint32(len(h.MinerPubKey)))
	hasher.Write(buf[:4])
	hasher.Write([]byte(h.MinerPubKey))

	var out Hash
	copy(out[:], hasher.Sum(nil))
	return out
}

// MeetsDifficulty checks the proof-of-work of the stored Hash.
func (h *BlockHeader) MeetsDifficulty() bool {
	if h.Difficulty > MaxDifficulty {
		return false
	}
	return h.Hash.LeadingZeroBits() >= int(h.Difficulty)
}

// VerifyHash re-derives the hash and checks proof-of-work.
func (h *BlockHeader) VerifyHash() bool {
	return h.Hash == h.ComputeHash() && h.MeetsDifficulty()
}

// Mine searches nonces starting at the current one until the header meets its
// difficulty, then stores the winning hash.
func (h *BlockHeader) Mine() error {
	if h.Difficulty > MaxDifficulty {
		return fmt.Errorf("difficulty %d exceeds maximum %d", h.Difficulty, MaxDifficulty)
	}
	start := h.Nonce
	for {
		h.Hash = h.ComputeHash()
		if h.MeetsDifficulty() {
			return nil
		}
		h.Nonce++
		if h.Nonce == start {
			return fmt.Errorf("nonce space exhausted at difficulty %d", h.Difficulty)
		}
	}
}

func (h *BlockHeader) Sign(priv ed25519.PrivateKey) {
	sig := common.EncodeBytesToBase58(ed25519.Sign(priv, h.Hash[:]))
	h.Signature = &sig
}

// VerifySignature checks the miner signature; an absent signature is reported as false.
func (h *BlockHeader) VerifySignature() bool {
	if h.Signature == nil {
		return false
	}
	pub, err := common.PublicKeyFromBase58(h.MinerPubKey, "miner pubkey")
	if err != nil {
		return false
	}
	sig, err := common.DecodeBase58ToBytes(*h.Signature)
	if err != nil {
		return false
	}
	return ed25519.Verify(pub, h.Hash[:], sig)
}

type Block struct {
	Header       BlockHeader                `json:"header"`
	Transactions []*transaction.Transaction `json:"transactions"`
}

func (b *Block) Hash() Hash {
	return b.Header.Hash
}

func (b *Block) Index() uint64 {
	return b.Header.Index
}

// AssembleBlock builds an unmined block on top of parent with the merkle root filled in.
func AssembleBlock(parent *BlockHeader, txs []*transaction.Transaction, timestamp float64, difficulty uint32, miner string) *Block {
	b := &Block{
		Header: BlockHeader{
			Index:        parent.Index + 1,
			PreviousHash: parent.Hash,
			MerkleRoot:   CalculateMerkleRoot(txs),
			Timestamp:    timestamp,
			Difficulty:   difficulty,
			MinerPubKey:  miner,
			Version:      CurrentVersion,
		},
		Transactions: txs,
	}
	return b
}

// Headers strips bodies from a block list.
func Headers(blocks []*Block) []BlockHeader {
	out := make([]BlockHeader, len(blocks))
	for i, b := range blocks {
		out[i] = b.Header
	}
	return out
}
