package policy

import (
	"testing"

	"clinicqr/internal/models"
)

func TestAllowed(t *testing.T) {
	cases := []struct {
		name       string
		role       string
		capability string
		want       bool
	}{
		{"reception creates visits", models.RoleReception, "visit.create", true},
		{"reception cannot claim", models.RoleReception, "claim.doctor", false},
		{"doctor claims doctor", models.RoleDoctor, "claim.doctor", true},
		{"doctor cannot claim lab", models.RoleDoctor, "claim.lab", false},
		{"lab claims lab", models.RoleLab, "claim.lab", true},
		{"lab cannot dispense", models.RoleLab, "prescription.dispense", false},
		{"pharmacy dispenses", models.RolePharmacy, "prescription.dispense", true},
		{"vaccination manages catalog", models.RoleVaccination, "vaccine.manage", true},
		{"admin purges", models.RoleAdmin, "admin.purge", true},
		{"admin views queues", models.RoleAdmin, "queue.view", true},
		{"admin views prescriptions", models.RoleAdmin, "prescription.view", true},
		{"patient views queue only", models.RolePatient, "queue.view", true},
		{"patient cannot create visits", models.RolePatient, "visit.create", false},
		{"unknown role", "janitor", "queue.view", false},
		{"unknown capability", models.RoleAdmin, "visit.teleport", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Allowed(tc.role, tc.capability); got != tc.want {
				t.Fatalf("Allowed(%q, %q) = %v, want %v", tc.role, tc.capability, got, tc.want)
			}
		})
	}
}

func TestClaimCapability(t *testing.T) {
	if got := ClaimCapability(models.ClaimDoctor); got != "claim.doctor" {
		t.Fatalf("ClaimCapability = %q", got)
	}
	if !Allowed(models.RoleVaccination, ClaimCapability(models.ClaimVaccination)) {
		t.Fatal("vaccination role should hold its claim capability")
	}
}
