// Package policy maps staff roles to the visit actions they may perform.
package policy

import "clinicqr/internal/models"

// capabilities is the single authorization table. Handlers ask Allowed once
// per request instead of checking roles inline.
var capabilities = map[string]map[string]bool{
	models.RoleAdmin: {
		"visit.create": true, "patient.create": true, "staff.manage": true,
		"report.view": true, "activity.view": true, "admin.purge": true,
		"vaccine.manage": true, "queue.view": true, "prescription.view": true,
	},
	models.RoleReception: {
		"visit.create": true, "patient.create": true, "queue.view": true,
		"report.view": true,
	},
	models.RoleDoctor: {
		"claim.doctor": true, "visit.verify": true, "visit.consult": true,
		"visit.finish": true, "queue.view": true, "report.view": true,
	},
	models.RoleLab: {
		"claim.lab": true, "visit.verify": true, "lab.receive": true,
		"lab.complete": true, "queue.view": true, "report.view": true,
	},
	models.RolePharmacy: {
		"prescription.view": true, "prescription.ready": true,
		"prescription.dispense": true, "queue.view": true, "report.view": true,
	},
	models.RoleVaccination: {
		"claim.vaccination": true, "visit.verify": true,
		"vaccination.receive": true, "vaccination.finish": true,
		"vaccine.manage": true, "queue.view": true, "report.view": true,
	},
	models.RolePatient: {
		"queue.view": true,
	},
}

func Allowed(role, capability string) bool {
	caps, ok := capabilities[role]
	if !ok {
		return false
	}
	return caps[capability]
}

// ClaimCapability returns the capability name guarding a claim of the given
// kind.
func ClaimCapability(kind string) string {
	return "claim." + kind
}
