// Package care is the business boundary for an emergency-care session: it
// owns intake, asynchronous classification, the emergency gate, facility
// ranking and selection, and the session's care pathway.
package care
