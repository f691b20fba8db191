// Package triage turns a symptom assessment into an urgency decision.
//
// The rule engine classifies deterministically; an optional external
// classifier may override it. Reconcile combines both into a Decision, and
// Decision.IsCritical is the single gate for the emergency-contact route.
package triage
