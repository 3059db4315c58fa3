/*
scenarios_test.go - Tests for demo scenarios

PURPOSE:
	Tests that each scenario leaves the expected state:
	- Lines and customers are created
	- Deleted and restored records line up
	- BF matches the hand-computed value, both cached and recomputed

These tests double as integration tests of the engine through its public
operations.
*/
package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linebook/collection-ledger/ledger"
)

func TestScenarios_LoadExpectedBF(t *testing.T) {
	tests := []struct {
		id     string
		lineID string
		bf     int64
	}{
		// 50000 - 10000 + 12000 - 4000 + 5000
		{"reference-line", "north", 53000},
		// 20000 - 4500 + 5000 - 3600 + 1000
		{"restoration-chain", "river", 17900},
		// 20000 - 4500 + 5000 - 7200 + 2000 - 2700 + 1000 + 5000
		{"renewals", "market", 18600},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			// GIVEN: an empty server
			s := newTestServer(t)

			// WHEN: the scenario is loaded
			s.mustDo(t, http.MethodPost, "/api/scenarios/load", map[string]any{"scenario_id": tt.id}, http.StatusOK)

			// THEN: it is the current scenario and BF matches
			current := decodeBody[ScenarioDTO](t, s.mustDo(t, http.MethodGet, "/api/scenarios/current", nil, http.StatusOK))
			assert.Equal(t, tt.id, current.ID)
			s.requireBF(t, tt.lineID, tt.bf)
		})
	}
}

func TestScenario_ReloadReplacesData(t *testing.T) {
	s := newTestServer(t)
	s.mustDo(t, http.MethodPost, "/api/scenarios/load", map[string]any{"scenario_id": "reference-line"}, http.StatusOK)
	s.mustDo(t, http.MethodPost, "/api/scenarios/load", map[string]any{"scenario_id": "renewals"}, http.StatusOK)

	lines, err := s.handler.Engine.ListLines(context.Background())
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, "market", lines[0].ID)
}

func TestScenario_RestorationChainRecords(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.handler.loadRestorationChainScenario(context.Background()))

	all, err := s.handler.Engine.DeletedCustomers(context.Background(), "river", true)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, all[0].InternalID, all[1].InternalID)

	tl, err := s.handler.Engine.DeletedCustomerTimeline(context.Background(), "river", "2", "", 0)
	require.NoError(t, err)
	assert.NotEmpty(t, tl.Events)
}

func TestScenario_RenewalsHasOverdueCustomer(t *testing.T) {
	s := newTestServer(t)
	s.mustDo(t, http.MethodPost, "/api/scenarios/load", map[string]any{"scenario_id": "renewals"}, http.StatusOK)

	pending, err := s.handler.Engine.PendingCustomers(context.Background(), "market", s.handler.now())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "2", pending[0].ID)

	summary, err := s.handler.Engine.GetCustomer(context.Background(), "market", "Tuesday", "1")
	require.NoError(t, err)
	assert.Equal(t, ledger.TxRenewal, summary.Loan.EventType)
}

func TestScenario_UnknownAndReset(t *testing.T) {
	s := newTestServer(t)
	s.mustDo(t, http.MethodPost, "/api/scenarios/load", map[string]any{"scenario_id": "nope"}, http.StatusBadRequest)
	s.mustDo(t, http.MethodPost, "/api/scenarios/load", map[string]any{}, http.StatusBadRequest)

	s.mustDo(t, http.MethodPost, "/api/scenarios/load", map[string]any{"scenario_id": "reference-line"}, http.StatusOK)
	s.mustDo(t, http.MethodPost, "/api/scenarios/reset", nil, http.StatusOK)

	rec := s.mustDo(t, http.MethodGet, "/api/scenarios/current", nil, http.StatusOK)
	assert.Equal(t, "null\n", rec.Body.String())
	s.mustDo(t, http.MethodGet, "/api/lines/north", nil, http.StatusNotFound)

	list := decodeBody[[]ScenarioDTO](t, s.mustDo(t, http.MethodGet, "/api/scenarios", nil, http.StatusOK))
	assert.Len(t, list, 3)
}
