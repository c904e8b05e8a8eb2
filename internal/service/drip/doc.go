// Package drip implements the drip campaign engine: campaign and step
// management, trigger-driven enrollment, and the enrollment state machine
// that advances each recipient through a campaign's timed steps.
//
// The service layer contains the business rules and depends on the
// Repository interface defined in repository.go. Scheduling is pull-based:
// a worker calls GetDueEnrollments and AdvanceEnrollment on its own cadence.
//
// Repository implementations live in repository/postgres/ and repository/memory/.
package drip
