package enums

import "fmt"

// RewardStatus maps to the reward_status enum in Postgres. The ledger stores
// it verbatim on reward-linked entries and never interprets it.
type RewardStatus string

const (
	RewardStatusPending   RewardStatus = "pending"
	RewardStatusConfirmed RewardStatus = "confirmed"
	RewardStatusPaid      RewardStatus = "paid"
	RewardStatusReversed  RewardStatus = "reversed"
)

var validRewardStatuses = []RewardStatus{
	RewardStatusPending,
	RewardStatusConfirmed,
	RewardStatusPaid,
	RewardStatusReversed,
}

// IsValid reports whether the value matches the canonical reward_status enum.
func (r RewardStatus) IsValid() bool {
	for _, candidate := range validRewardStatuses {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseRewardStatus converts raw input into RewardStatus.
func ParseRewardStatus(value string) (RewardStatus, error) {
	for _, candidate := range validRewardStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid reward status %q", value)
}
