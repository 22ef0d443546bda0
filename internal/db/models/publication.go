// Package models - publication.go defines the publication ledger record and its
// lifecycle states.
package models

import (
	"fmt"
	"strings"
	"time"
)

// Environment is a named publication destination.
type Environment string

const (
	EnvironmentDevelopment      Environment = "development"
	EnvironmentReleaseCandidate Environment = "release_candidate"
	EnvironmentProduction       Environment = "production"
)

// Environments lists every known environment in promotion order.
var Environments = []Environment{
	EnvironmentDevelopment,
	EnvironmentReleaseCandidate,
	EnvironmentProduction,
}

// ParseEnvironment normalises s (case, hyphen/underscore spelling) and returns the
// matching environment. "release-candidate" and "Release_Candidate" both map to
// EnvironmentReleaseCandidate.
func ParseEnvironment(s string) (Environment, error) {
	normalized := Environment(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	for _, env := range Environments {
		if env == normalized {
			return env, nil
		}
	}
	return "", fmt.Errorf("unknown environment %q", s)
}

// PublicationStatus is the lifecycle state of a publication.
type PublicationStatus string

const (
	PublicationPending    PublicationStatus = "pending"
	PublicationPublishing PublicationStatus = "publishing"
	PublicationCompleted  PublicationStatus = "completed"
	PublicationFailed     PublicationStatus = "failed"
)

// IsTerminal reports whether no further transition is allowed from s.
func (s PublicationStatus) IsTerminal() bool {
	return s == PublicationCompleted || s == PublicationFailed
}

// CanTransition reports whether moving from s to next is a legal forward step:
// pending -> publishing -> completed|failed, plus pending -> completed|failed.
func (s PublicationStatus) CanTransition(next PublicationStatus) bool {
	switch s {
	case PublicationPending:
		return next == PublicationPublishing || next.IsTerminal()
	case PublicationPublishing:
		return next.IsTerminal()
	default:
		return false
	}
}

// Publication is one request to place a cataloged package into an environment.
type Publication struct {
	ID           string            `json:"id"`
	PackageID    string            `json:"apk_id"`
	Environment  Environment       `json:"platform"`
	Status       PublicationStatus `json:"status"`
	RequestedBy  string            `json:"user_id"`
	RequestedAt  time.Time         `json:"created_at"`
	CompletedAt  *time.Time        `json:"completed_at,omitempty"`
	TargetPath   *string           `json:"target_path,omitempty"`
	ErrorMessage *string           `json:"error_message,omitempty"`
}

// PublicationWithPackage is a ledger entry joined with the package identity for display.
type PublicationWithPackage struct {
	Publication
	PackageName    string  `json:"apk_name"`
	PackageVersion string  `json:"apk_version"`
	PackageBuild   *string `json:"apk_build,omitempty"`
}
