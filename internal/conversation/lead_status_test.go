package conversation

import "testing"

func TestComputeLeadStatus(t *testing.T) {
	tests := []struct {
		name    string
		score   int
		current LeadStatus
		want    LeadStatus
	}{
		{"hot at eight", 8, LeadCold, LeadHot},
		{"warm at four", 4, LeadNew, LeadWarm},
		{"new cools down", 1, LeadNew, LeadCold},
		{"hot lost relaxes to warm", 0, LeadHotLost, LeadWarm},
		{"hot drops to cold", 2, LeadHot, LeadCold},
		{"closed won sticky", 20, LeadClosedWon, LeadClosedWon},
		{"closed lost sticky", 0, LeadClosedLost, LeadClosedLost},
		{"human sticky", 9, LeadHuman, LeadHuman},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ComputeLeadStatus(tt.score, tt.current); got != tt.want {
				t.Fatalf("ComputeLeadStatus(%d, %s) = %s, want %s", tt.score, tt.current, got, tt.want)
			}
		})
	}
}

func TestStickyStatusesSurviveAnyScore(t *testing.T) {
	for _, status := range []LeadStatus{LeadHuman, LeadClosedWon, LeadClosedLost} {
		for score := 0; score <= 30; score++ {
			if got := ComputeLeadStatus(score, status); got != status {
				t.Fatalf("status %s moved to %s at score %d", status, got, score)
			}
		}
	}
}
