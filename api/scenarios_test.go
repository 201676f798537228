package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenarios_List(t *testing.T) {
	s := newTestServer(t)

	list := decode[[]ScenarioDTO](t, s.do(http.MethodGet, "/api/scenarios", "", nil))

	var ids []string
	for _, sc := range list {
		ids = append(ids, sc.ID)
	}
	assert.Equal(t, []string{"two-level", "top-level", "circular"}, ids)
}

func TestScenarios_LoadReplacesData(t *testing.T) {
	s := newTestServer(t)

	// GIVEN: two-level loaded with a request in flight
	s.load("two-level")
	require.Equal(t, http.StatusCreated, s.submit("alice", "2025-03-10", "2025-03-10").Code)

	// WHEN: another scenario is loaded
	s.load("top-level")

	// THEN: only its employees remain and the old request is gone
	emps := decode[[]EmployeeDTO](t, s.do(http.MethodGet, "/api/employees", "", nil))
	assert.Len(t, emps, 3)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/api/employees/alice/balance", "", nil).Code)

	current := decode[map[string]string](t, s.do(http.MethodGet, "/api/scenarios/current", "", nil))
	assert.Equal(t, "top-level", current["scenario_id"])
}

func TestScenarios_EveryScenarioSeedsItsBalances(t *testing.T) {
	for _, sc := range scenarios {
		t.Run(sc.ID, func(t *testing.T) {
			s := newTestServer(t)
			s.load(sc.ID)
			for _, e := range sc.employees {
				assert.Equal(t, e.LeaveBalance, s.balance(string(e.ID)), e.ID)
			}
		})
	}
}

func TestScenarios_UnknownAndReset(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/api/scenarios/load", "", LoadScenarioRequest{ScenarioID: "nope"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	s.load("circular")
	rec = s.do(http.MethodPost, "/api/scenarios/reset", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Empty(t, decode[[]EmployeeDTO](t, s.do(http.MethodGet, "/api/employees", "", nil)))
	current := decode[map[string]string](t, s.do(http.MethodGet, "/api/scenarios/current", "", nil))
	assert.Empty(t, current["scenario_id"])
}
