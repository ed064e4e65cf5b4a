package store

import "clinicqr/internal/models"

var transitionMap = map[string][]string{
	"claim":               {models.StatusQueued, models.StatusClaimed},
	"verify_arrival":      {models.StatusQueued, models.StatusClaimed},
	"consult":             {models.StatusClaimed, models.StatusInProcess},
	"finish":              {models.StatusInProcess},
	"receive_lab":         {models.StatusQueued, models.StatusClaimed, models.StatusInProcess},
	"complete_lab":        {models.StatusInProcess},
	"receive_vaccination": {models.StatusQueued, models.StatusClaimed, models.StatusInProcess},
	"finish_vaccination":  {models.StatusInProcess},
}

func ValidTransition(action, fromStatus string) bool {
	allowed, ok := transitionMap[action]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == fromStatus {
			return true
		}
	}
	return false
}
