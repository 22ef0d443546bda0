package models

import "testing"

func TestParseEnvironment(t *testing.T) {
	tests := []struct {
		in      string
		want    Environment
		wantErr bool
	}{
		{"development", EnvironmentDevelopment, false},
		{"release_candidate", EnvironmentReleaseCandidate, false},
		{"release-candidate", EnvironmentReleaseCandidate, false},
		{"Release-Candidate", EnvironmentReleaseCandidate, false},
		{" production ", EnvironmentProduction, false},
		{"staging", "", true},
		{"", "", true},
		{"prod", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseEnvironment(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseEnvironment(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseEnvironment(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestPublicationStatus_CanTransition(t *testing.T) {
	all := []PublicationStatus{PublicationPending, PublicationPublishing, PublicationCompleted, PublicationFailed}
	allowed := map[[2]PublicationStatus]bool{
		{PublicationPending, PublicationPublishing}:   true,
		{PublicationPending, PublicationCompleted}:    true,
		{PublicationPending, PublicationFailed}:       true,
		{PublicationPublishing, PublicationCompleted}: true,
		{PublicationPublishing, PublicationFailed}:    true,
	}
	for _, from := range all {
		for _, to := range all {
			want := allowed[[2]PublicationStatus{from, to}]
			if got := from.CanTransition(to); got != want {
				t.Errorf("%s -> %s: CanTransition = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestPublicationStatus_IsTerminal(t *testing.T) {
	if PublicationPending.IsTerminal() || PublicationPublishing.IsTerminal() {
		t.Error("pending/publishing must not be terminal")
	}
	if !PublicationCompleted.IsTerminal() || !PublicationFailed.IsTerminal() {
		t.Error("completed/failed must be terminal")
	}
}

func TestConflictPolicy_String(t *testing.T) {
	if ConflictSkip.String() != "skip" {
		t.Errorf("ConflictSkip.String() = %q", ConflictSkip.String())
	}
	if ConflictReplace.String() != "replace" {
		t.Errorf("ConflictReplace.String() = %q", ConflictReplace.String())
	}
}
