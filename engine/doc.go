// Package engine implements the job state machine at the centre of the
// kernel. It owns every status transition, drives one execution attempt
// per RunOnce call, and orchestrates the surrounding stores: checkpoints
// per step, retry scheduling with capped exponential backoff, dead-letter
// seeding on exhausted or permanent failures, and resume-token issuance
// on human-review interrupts.
//
// This package exists to break the import cycle: the root conveyor
// package defines Entity (imported by job, workflow, etc.) and so cannot
// import those packages back. The engine package sits above all subsystem
// packages and below the worker runtime.
package engine
