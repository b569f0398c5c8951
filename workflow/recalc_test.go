package workflow

import (
	"testing"

	"bitbucket.org/mmdatafocus/qrtrace_backend/models"
)

func TestDeriveMasterStatus(t *testing.T) {
	cases := []struct {
		name     string
		current  models.MasterCodeStatus
		actual   int
		expected int
		want     models.MasterCodeStatus
	}{
		{"under count is partial", models.MasterCodeStatusGenerated, 40, 50, models.MasterCodeStatusPartial},
		{"exact count is packed", models.MasterCodeStatusPartial, 50, 50, models.MasterCodeStatusPacked},
		{"over count stays packed", models.MasterCodeStatusPacked, 51, 50, models.MasterCodeStatusPacked},
		{"packed demotes to partial on recount", models.MasterCodeStatusPacked, 49, 50, models.MasterCodeStatusPartial},
		{"printed under count is partial", models.MasterCodeStatusPrinted, 10, 50, models.MasterCodeStatusPartial},
		{"ready_to_ship never demoted", models.MasterCodeStatusReadyToShip, 0, 50, models.MasterCodeStatusReadyToShip},
		{"received never demoted", models.MasterCodeStatusReceivedWarehouse, 10, 50, models.MasterCodeStatusReceivedWarehouse},
		{"zero expected completes immediately", models.MasterCodeStatusGenerated, 0, 0, models.MasterCodeStatusPacked},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := DeriveMasterStatus(tc.current, tc.actual, tc.expected)
			if got != tc.want {
				t.Fatalf("DeriveMasterStatus(%s, %d, %d) = %s, want %s", tc.current, tc.actual, tc.expected, got, tc.want)
			}
		})
	}
}
