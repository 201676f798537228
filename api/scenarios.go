/*
scenarios.go - Demo org charts for manual exercise of the approval flow

AVAILABLE SCENARIOS:

	two-level:  Employees report to a branch manager who reports to HR.
	            Requests need two approvals; HR is the final approver.
	top-level:  A system admin and an unsupervised founder. Requests from
	            people with no supervisor are approved on submission.
	circular:   Two managers supervise each other and nobody holds a
	            final-approver role. Shows the chain walk stopping.

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Save employees top-down with their opening balances

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "two-level"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/warp/leave-engine/timeoff"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

type scenario struct {
	ScenarioDTO
	employees []timeoff.Employee
}

var scenarios = []scenario{
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "two-level",
			Name:        "Two-Level Approval",
			Description: "Engineers report to a branch manager who reports to HR",
		},
		employees: []timeoff.Employee{
			{ID: "hana", Name: "Hana HR", BranchID: "hq", DepartmentID: "people",
				Roles: timeoff.RoleSet{timeoff.RoleHRManager}, LeaveBalance: 25},
			{ID: "bob", Name: "Bob Branch", SupervisorID: "hana", BranchID: "north", DepartmentID: "engineering",
				Roles: timeoff.RoleSet{timeoff.RoleBranchManager}, LeaveBalance: 25},
			{ID: "dina", Name: "Dina Head", SupervisorID: "bob", BranchID: "north", DepartmentID: "engineering",
				Roles: timeoff.RoleSet{timeoff.RoleDepartmentHead}, LeaveBalance: 21},
			{ID: "alice", Name: "Alice Engineer", SupervisorID: "bob", BranchID: "north", DepartmentID: "engineering",
				Roles: timeoff.RoleSet{timeoff.RoleEmployee}, LeaveBalance: 21},
			{ID: "carl", Name: "Carl Engineer", SupervisorID: "bob", BranchID: "north", DepartmentID: "engineering",
				Roles: timeoff.RoleSet{timeoff.RoleEmployee}, LeaveBalance: 3},
			{ID: "sam", Name: "Sam Sales", SupervisorID: "hana", BranchID: "south", DepartmentID: "sales",
				Roles: timeoff.RoleSet{timeoff.RoleEmployee}, LeaveBalance: 18},
		},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "top-level",
			Name:        "Top-Level Requesters",
			Description: "Requests with an empty approval chain are approved on submission",
		},
		employees: []timeoff.Employee{
			{ID: "ada", Name: "Ada Admin", Roles: timeoff.RoleSet{timeoff.RoleSystemAdmin}, LeaveBalance: 30},
			{ID: "finn", Name: "Finn Founder", LeaveBalance: 30},
			{ID: "pia", Name: "Pia Ops", SupervisorID: "ada", BranchID: "hq", DepartmentID: "ops",
				Roles: timeoff.RoleSet{timeoff.RoleEmployee}, LeaveBalance: 20},
		},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "circular",
			Name:        "Circular Reporting",
			Description: "Two managers supervise each other; the chain walk stops at the loop",
		},
		employees: []timeoff.Employee{
			{ID: "max", Name: "Max Manager", SupervisorID: "mia", BranchID: "west",
				Roles: timeoff.RoleSet{timeoff.RoleBranchManager}, LeaveBalance: 20},
			{ID: "mia", Name: "Mia Manager", SupervisorID: "max", BranchID: "west",
				Roles: timeoff.RoleSet{timeoff.RoleDepartmentHead}, LeaveBalance: 20},
			{ID: "eve", Name: "Eve Employee", SupervisorID: "max", BranchID: "west", DepartmentID: "support",
				Roles: timeoff.RoleSet{timeoff.RoleEmployee}, LeaveBalance: 15},
		},
	},
}

func findScenario(id string) (scenario, bool) {
	for _, s := range scenarios {
		if s.ID == id {
			return s, true
		}
	}
	return scenario{}, false
}

// loadScenario resets the directory and seeds the scenario's employees.
// Supervisors are saved before their reports.
func (h *Handler) loadScenario(ctx context.Context, s scenario) error {
	if err := h.Directory.Reset(ctx); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	for _, e := range s.employees {
		if err := h.Directory.SaveEmployee(ctx, e); err != nil {
			return fmt.Errorf("save employee %s: %w", e.ID, err)
		}
	}
	return nil
}

// =============================================================================
// SCENARIO HANDLERS
// =============================================================================

// ListScenarios returns the available demo scenarios.
// GET /api/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, _ *http.Request) {
	out := make([]ScenarioDTO, len(scenarios))
	for i, s := range scenarios {
		out[i] = s.ScenarioDTO
	}
	writeJSON(w, http.StatusOK, out)
}

// GetCurrentScenario returns the id of the last loaded scenario.
// GET /api/scenarios/current
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, _ *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"scenario_id": current})
}

// LoadScenario resets the data and seeds a scenario.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var body LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "Invalid request body", err.Error())
		return
	}
	s, ok := findScenario(body.ScenarioID)
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Unknown scenario", body.ScenarioID)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.loadScenario(r.Context(), s); err != nil {
		h.log.Error("load scenario failed", zap.String("scenario_id", s.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load scenario", nil)
		return
	}
	h.currentScenario = s.ID
	h.log.Info("scenario loaded", zap.String("scenario_id", s.ID), zap.Int("employees", len(s.employees)))

	writeJSON(w, http.StatusOK, s.ScenarioDTO)
}

// ResetDatabase clears all data.
// POST /api/scenarios/reset
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Directory.Reset(r.Context()); err != nil {
		h.log.Error("reset failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to reset database", nil)
		return
	}
	h.currentScenario = ""
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}
