package marketplace

// Params are the tunable economic and storage limits of the marketplace.
type Params struct {
	MinReward           uint64 `json:"min_reward" yaml:"min_reward"`
	HistoryLimit        int    `json:"history_limit" yaml:"history_limit"`
	MaxDescription      int    `json:"max_description" yaml:"max_description"`
	MaxProposal         int    `json:"max_proposal" yaml:"max_proposal"`
	MaxProof            int    `json:"max_proof" yaml:"max_proof"`
	MaxComment          int    `json:"max_comment" yaml:"max_comment"`
	MaxReason           int    `json:"max_reason" yaml:"max_reason"`
	MinBidderReputation int64  `json:"min_bidder_reputation" yaml:"min_bidder_reputation"`
	PruneAfterBlocks    uint64 `json:"prune_after_blocks" yaml:"prune_after_blocks"`
}

// Score constants.
const (
	MinScore     int64 = 0
	MaxScore     int64 = 10000
	DefaultScore int64 = 5000

	ReviewPointsPerStar int64 = 100
	DisputeWinBonus     int64 = 200
	DisputeLossPenalty  int64 = 500

	MaxAccountLen = 128
)

// DefaultParams returns the parameters used when no configuration is given.
func DefaultParams() Params {
	return Params{
		MinReward:      1,
		HistoryLimit:   100,
		MaxDescription: 2048,
		MaxProposal:    1024,
		MaxProof:       4096,
		MaxComment:     512,
		MaxReason:      512,
	}
}

// withDefaults fills zero limits so a partially specified Params stays bounded.
func (p Params) withDefaults() Params {
	d := DefaultParams()
	if p.MinReward == 0 {
		p.MinReward = d.MinReward
	}
	if p.HistoryLimit <= 0 {
		p.HistoryLimit = d.HistoryLimit
	}
	if p.MaxDescription <= 0 {
		p.MaxDescription = d.MaxDescription
	}
	if p.MaxProposal <= 0 {
		p.MaxProposal = d.MaxProposal
	}
	if p.MaxProof <= 0 {
		p.MaxProof = d.MaxProof
	}
	if p.MaxComment <= 0 {
		p.MaxComment = d.MaxComment
	}
	if p.MaxReason <= 0 {
		p.MaxReason = d.MaxReason
	}
	return p
}
