package timeoff_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/store/memory"
	"github.com/warp/leave-engine/timeoff"
)

func orgOf(t *testing.T, employees ...timeoff.Employee) *memory.Memory {
	t.Helper()
	m := memory.New()
	for _, e := range employees {
		require.NoError(t, m.SaveEmployee(context.Background(), e))
	}
	return m
}

func approverIDs(chain []timeoff.ApprovalStep) []generic.EntityID {
	ids := make([]generic.EntityID, 0, len(chain))
	for _, s := range chain {
		ids = append(ids, s.ApproverID)
	}
	return ids
}

func TestChain_StopsAtHR(t *testing.T) {
	// GIVEN: dev -> lead -> hr -> ceo
	// THEN: chain is lead, hr; ceo is never reached

	org := orgOf(t,
		employee("ceo", "", 0, timeoff.RoleSystemAdmin),
		employee("hr", "ceo", 0, timeoff.RoleHRManager),
		employee("lead", "hr", 0),
		employee("dev", "lead", 0),
	)
	b := timeoff.NewChainBuilder(org, timeoff.DefaultChainPolicy())

	chain, err := b.Build(context.Background(), "dev")
	require.NoError(t, err)
	assert.Equal(t, []generic.EntityID{"lead", "hr"}, approverIDs(chain))
	for _, s := range chain {
		assert.Equal(t, timeoff.StatusPending, s.Status)
		assert.Nil(t, s.ActionedAt)
	}
}

func TestChain_SystemAdminIsFinal(t *testing.T) {
	org := orgOf(t,
		employee("root", "", 0, timeoff.RoleSystemAdmin),
		employee("dev", "root", 0),
	)
	b := timeoff.NewChainBuilder(org, timeoff.DefaultChainPolicy())

	chain, err := b.Build(context.Background(), "dev")
	require.NoError(t, err)
	assert.Equal(t, []generic.EntityID{"root"}, approverIDs(chain))
}

func TestChain_TopLevelIsEmpty(t *testing.T) {
	org := orgOf(t, employee("ceo", "", 0))
	b := timeoff.NewChainBuilder(org, timeoff.DefaultChainPolicy())

	chain, err := b.Build(context.Background(), "ceo")
	require.NoError(t, err)
	assert.Empty(t, chain)
}

func TestChain_CycleTruncatesSilently(t *testing.T) {
	// GIVEN: a -> b -> c -> a, nobody in HR
	// THEN: chain is b, c and never contains a

	org := orgOf(t,
		employee("a", "b", 0),
		employee("b", "c", 0),
		employee("c", "a", 0),
	)
	b := timeoff.NewChainBuilder(org, timeoff.DefaultChainPolicy())

	chain, err := b.Build(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, []generic.EntityID{"b", "c"}, approverIDs(chain))
}

func TestChain_CycleAboveRequesterTruncates(t *testing.T) {
	// GIVEN: a -> b -> c -> b
	// THEN: chain is b, c with no duplicate

	org := orgOf(t,
		employee("a", "b", 0),
		employee("b", "c", 0),
		employee("c", "b", 0),
	)
	b := timeoff.NewChainBuilder(org, timeoff.DefaultChainPolicy())

	chain, err := b.Build(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, []generic.EntityID{"b", "c"}, approverIDs(chain))
}

func deepOrg(t *testing.T, depth int) *memory.Memory {
	// e0 -> e1 -> ... -> e<depth>, top has no supervisor
	var emps []timeoff.Employee
	for i := 0; i <= depth; i++ {
		sup := ""
		if i < depth {
			sup = fmt.Sprintf("e%d", i+1)
		}
		emps = append(emps, employee(fmt.Sprintf("e%d", i), sup, 0))
	}
	return orgOf(t, emps...)
}

func TestChain_HopLimitTruncates(t *testing.T) {
	org := deepOrg(t, 8)
	b := timeoff.NewChainBuilder(org, timeoff.DefaultChainPolicy())

	chain, err := b.Build(context.Background(), "e0")
	require.NoError(t, err)
	assert.Len(t, chain, timeoff.DefaultMaxHops)
	assert.Equal(t, generic.EntityID("e5"), chain[len(chain)-1].ApproverID)
}

func TestChain_StrictHopLimit(t *testing.T) {
	// GIVEN: hierarchy deeper than the hop budget
	// THEN: strict mode reports where the walk stopped

	org := deepOrg(t, 8)
	b := timeoff.NewChainBuilder(org, timeoff.ChainPolicy{MaxHops: 5, Strict: true})

	_, err := b.Build(context.Background(), "e0")

	var broken *generic.BrokenOrgChartError
	require.ErrorAs(t, err, &broken)
	assert.Equal(t, "hop_limit", broken.Reason)
	assert.Equal(t, generic.EntityID("e5"), broken.At)
}

func TestChain_StrictExactDepthIsFine(t *testing.T) {
	// Exactly MaxHops supervisors with nobody above: not broken.
	org := deepOrg(t, 5)
	b := timeoff.NewChainBuilder(org, timeoff.ChainPolicy{MaxHops: 5, Strict: true})

	chain, err := b.Build(context.Background(), "e0")
	require.NoError(t, err)
	assert.Len(t, chain, 5)
}

func TestChain_StrictCycle(t *testing.T) {
	org := orgOf(t,
		employee("a", "b", 0),
		employee("b", "a", 0),
	)
	b := timeoff.NewChainBuilder(org, timeoff.ChainPolicy{Strict: true})

	_, err := b.Build(context.Background(), "a")

	var broken *generic.BrokenOrgChartError
	require.ErrorAs(t, err, &broken)
	assert.Equal(t, "cycle", broken.Reason)
	assert.Equal(t, generic.EntityID("b"), broken.At)
}

func TestChain_NameIsSnapshot(t *testing.T) {
	// GIVEN: a chain built for dev
	// WHEN: the lead is renamed afterwards
	// THEN: the built step keeps the old name

	ctx := context.Background()
	org := orgOf(t,
		employee("hr", "", 0, timeoff.RoleHRManager),
		employee("dev", "hr", 0),
	)
	b := timeoff.NewChainBuilder(org, timeoff.DefaultChainPolicy())
	chain, err := b.Build(ctx, "dev")
	require.NoError(t, err)

	renamed := employee("hr", "", 0, timeoff.RoleHRManager)
	renamed.Name = "Renamed"
	require.NoError(t, org.SaveEmployee(ctx, renamed))

	assert.Equal(t, "Name of hr", chain[0].ApproverName)
}

// =============================================================================
// DIRECTORY FAILURES
// =============================================================================

type mockOrg struct {
	mock.Mock
}

func (m *mockOrg) GetEmployee(ctx context.Context, id generic.EntityID) (*timeoff.EmployeeRef, error) {
	args := m.Called(ctx, id)
	ref, _ := args.Get(0).(*timeoff.EmployeeRef)
	return ref, args.Error(1)
}

func (m *mockOrg) GetSupervisor(ctx context.Context, id generic.EntityID) (*timeoff.EmployeeRef, error) {
	args := m.Called(ctx, id)
	ref, _ := args.Get(0).(*timeoff.EmployeeRef)
	return ref, args.Error(1)
}

func (m *mockOrg) GetRoles(ctx context.Context, id generic.EntityID) (timeoff.RoleSet, error) {
	args := m.Called(ctx, id)
	roles, _ := args.Get(0).(timeoff.RoleSet)
	return roles, args.Error(1)
}

func (m *mockOrg) GetBranch(ctx context.Context, id generic.EntityID) (*timeoff.BranchRef, error) {
	args := m.Called(ctx, id)
	ref, _ := args.Get(0).(*timeoff.BranchRef)
	return ref, args.Error(1)
}

func (m *mockOrg) GetDepartment(ctx context.Context, id generic.EntityID) (*timeoff.DepartmentRef, error) {
	args := m.Called(ctx, id)
	ref, _ := args.Get(0).(*timeoff.DepartmentRef)
	return ref, args.Error(1)
}

func TestChain_DirectoryErrorPropagates(t *testing.T) {
	org := &mockOrg{}
	down := errors.New("directory unavailable")
	org.On("GetSupervisor", mock.Anything, generic.EntityID("dev")).
		Return(&timeoff.EmployeeRef{ID: "lead", Name: "Lead"}, nil)
	org.On("GetRoles", mock.Anything, generic.EntityID("lead")).
		Return(nil, down)

	b := timeoff.NewChainBuilder(org, timeoff.DefaultChainPolicy())
	_, err := b.Build(context.Background(), "dev")

	assert.ErrorIs(t, err, down)
	org.AssertExpectations(t)
}

func TestFirstPendingStep(t *testing.T) {
	steps := func(statuses ...timeoff.Status) []timeoff.ApprovalStep {
		out := make([]timeoff.ApprovalStep, len(statuses))
		for i, s := range statuses {
			out[i] = timeoff.ApprovalStep{ApproverID: generic.EntityID(fmt.Sprint(i)), Status: s}
		}
		return out
	}

	assert.Equal(t, -1, timeoff.FirstPendingStep(nil))
	assert.Equal(t, 0, timeoff.FirstPendingStep(steps(timeoff.StatusPending, timeoff.StatusPending)))
	assert.Equal(t, 1, timeoff.FirstPendingStep(steps(timeoff.StatusApproved, timeoff.StatusPending)))
	assert.Equal(t, -1, timeoff.FirstPendingStep(steps(timeoff.StatusApproved, timeoff.StatusApproved)))
	assert.Equal(t, 0, timeoff.FirstPendingStep(steps(timeoff.StatusPending, timeoff.StatusRejected)))
}
