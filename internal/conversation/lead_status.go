package conversation

// Score thresholds of the lead temperature table.
const (
	hotScore  = 8
	warmScore = 4
)

// ComputeLeadStatus derives the lead status for a new intent score. CLOSED_*
// and HUMAN are never changed by scoring.
func ComputeLeadStatus(score int, current LeadStatus) LeadStatus {
	if current.Sticky() {
		return current
	}
	switch {
	case score >= hotScore:
		return LeadHot
	case score >= warmScore:
		return LeadWarm
	case current == LeadHotLost:
		return LeadWarm
	default:
		return LeadCold
	}
}
