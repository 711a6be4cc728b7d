package consensus

import (
	"crypto/ed25519"
	"fmt"
	"math"

	"github.com/mezonai/mmnchain/common"
	"github.com/mezonai/mmnchain/config"
	chainerrors "github.com/mezonai/mmnchain/errors"
)

// Validator is a finality voter. The set is fixed for the process lifetime.
type Validator struct {
	Address     string
	PublicKey   ed25519.PublicKey
	VotingPower uint64
}

// NewValidatorSet decodes and checks a roster.
func NewValidatorSet(roster []config.ValidatorConfig) (map[string]Validator, uint64, error) {
	if len(roster) == 0 {
		return nil, 0, chainerrors.Configuration(chainerrors.ErrCodeEmptyValidatorSet, chainerrors.ErrMsgEmptyValidatorSet)
	}
	set := make(map[string]Validator, len(roster))
	var total uint64
	for _, v := range roster {
		if v.Address == "" {
			return nil, 0, chainerrors.Configuration(chainerrors.ErrCodeInvalidConfig, "validator address is empty")
		}
		if _, dup := set[v.Address]; dup {
			return nil, 0, chainerrors.Configuration(chainerrors.ErrCodeInvalidConfig, fmt.Sprintf("duplicate validator %s", v.Address))
		}
		if v.VotingPower == 0 {
			return nil, 0, chainerrors.Configuration(chainerrors.ErrCodeInvalidConfig, fmt.Sprintf("validator %s has no voting power", v.Address))
		}
		pub, err := common.PublicKeyFromBase58(v.PublicKey, "validator public key")
		if err != nil {
			return nil, 0, chainerrors.Wrap(chainerrors.KindConfiguration, chainerrors.ErrCodeInvalidConfig,
				fmt.Sprintf("validator %s has an invalid public key", v.Address), err)
		}
		if total+v.VotingPower < total {
			return nil, 0, chainerrors.Configuration(chainerrors.ErrCodeInvalidConfig, "total voting power overflows")
		}
		total += v.VotingPower
		set[v.Address] = Validator{Address: v.Address, PublicKey: pub, VotingPower: v.VotingPower}
	}
	return set, total, nil
}

// QuorumPower is ceil(total * threshold), clamped to [1, total].
func QuorumPower(total uint64, threshold float64) (uint64, error) {
	if math.IsNaN(threshold) || threshold <= 0 || threshold > 1 {
		return 0, chainerrors.Configuration(chainerrors.ErrCodeInvalidThreshold, chainerrors.ErrMsgInvalidThreshold)
	}
	if total == 0 {
		return 0, chainerrors.Configuration(chainerrors.ErrCodeEmptyValidatorSet, chainerrors.ErrMsgEmptyValidatorSet)
	}
	q := uint64(math.Ceil(float64(total) * threshold))
	if q < 1 {
		q = 1
	}
	if q > total {
		q = total
	}
	return q, nil
}
