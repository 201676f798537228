package timeoff

import (
	"context"

	"github.com/warp/leave-engine/generic"
)

// DefaultMaxHops bounds the supervisor walk.
const DefaultMaxHops = 5

// ChainPolicy controls how the builder treats a malformed hierarchy.
type ChainPolicy struct {
	MaxHops int

	// Strict turns a reporting cycle or an exhausted hop budget into
	// generic.ErrBrokenOrgChart. Non-strict truncates the chain silently.
	Strict bool
}

func DefaultChainPolicy() ChainPolicy {
	return ChainPolicy{MaxHops: DefaultMaxHops}
}

// ChainBuilder derives the ordered approver list for a requester by walking
// up the supervisor graph until it reaches an HR_MANAGER or SYSTEM_ADMIN.
type ChainBuilder struct {
	Org    OrgGraph
	Policy ChainPolicy
}

func NewChainBuilder(org OrgGraph, policy ChainPolicy) *ChainBuilder {
	if policy.MaxHops <= 0 {
		policy.MaxHops = DefaultMaxHops
	}
	return &ChainBuilder{Org: org, Policy: policy}
}

// Build returns the chain for requesterID. Every step starts PENDING and
// carries the approver's name as of now. An empty chain means the request
// needs no approval.
func (b *ChainBuilder) Build(ctx context.Context, requesterID generic.EntityID) ([]ApprovalStep, error) {
	maxHops := b.Policy.MaxHops
	if maxHops <= 0 {
		maxHops = DefaultMaxHops
	}

	var chain []ApprovalStep
	seen := make(map[generic.EntityID]bool)
	current := requesterID

	for hop := 0; hop < maxHops; hop++ {
		sup, err := b.Org.GetSupervisor(ctx, current)
		if err != nil {
			return nil, err
		}
		if sup == nil {
			return chain, nil
		}
		if sup.ID == requesterID || seen[sup.ID] {
			if b.Policy.Strict {
				return nil, &generic.BrokenOrgChartError{RequesterID: requesterID, At: current, Reason: "cycle"}
			}
			return chain, nil
		}

		chain = append(chain, ApprovalStep{
			ApproverID:   sup.ID,
			ApproverName: sup.Name,
			Status:       StatusPending,
		})
		seen[sup.ID] = true

		roles, err := b.Org.GetRoles(ctx, sup.ID)
		if err != nil {
			return nil, err
		}
		if roles.IsFinalApprover() {
			return chain, nil
		}
		current = sup.ID
	}

	if !b.Policy.Strict {
		return chain, nil
	}

	// Out of hops. Only an error if there was somewhere left to go.
	sup, err := b.Org.GetSupervisor(ctx, current)
	if err != nil {
		return nil, err
	}
	switch {
	case sup == nil:
		return chain, nil
	case sup.ID == requesterID || seen[sup.ID]:
		return nil, &generic.BrokenOrgChartError{RequesterID: requesterID, At: current, Reason: "cycle"}
	default:
		return nil, &generic.BrokenOrgChartError{RequesterID: requesterID, At: current, Reason: "hop_limit"}
	}
}
