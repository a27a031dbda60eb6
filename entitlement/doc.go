// Package entitlement reconciles the store receipt with the product catalog.
//
// A Store rebuilds an immutable Snapshot from every receipt it is given.
// The Engine answers eligibility queries against the published snapshot and
// runs the review pass: it compares the state seen at the previous review
// with a fresh reload and revokes trusted-network grants and provider
// profiles that a refunded purchase no longer pays for.
//
// Observers registered with Engine.Subscribe receive an Event after every
// receipt reload and every review.
package entitlement
