// Package registry owns the table of known peer connections for one running
// tier and the expiry sweep that is its only eviction policy.
//
// One Registry is constructed per process and passed explicitly to every
// component that needs it.
package registry
