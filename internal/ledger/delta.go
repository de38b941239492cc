// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package ledger

import (
	"time"

	"github.com/pdiddy/ctmirror/pkg/types"
)

// Reasons attached to a Decision.
const (
	ReasonNew      = "new"
	ReasonForced   = "forced"
	ReasonComplete = "assume-complete"
	ReasonRecent   = "recently-downloaded"
	ReasonRefresh  = "refresh"
)

// Decision is the verdict for one candidate record.
type Decision struct {
	Fetch  bool
	Reason string
}

// ShouldFetch decides whether a candidate must be (re)fetched. Rules are
// applied in order:
//
//  1. never seen: fetch
//  2. policy.ForceAll: fetch
//  3. entry.AssumeComplete: skip
//  4. downloaded within policy.SkipRecentDays of now: skip
//  5. otherwise: fetch
//
// Whether a record is complete is decided by its source adapter when it is
// committed; this function only reads the stored flag.
func ShouldFetch(entry *types.LedgerEntry, policy types.RunPolicy, now time.Time) Decision {
	if entry == nil {
		return Decision{Fetch: true, Reason: ReasonNew}
	}
	if policy.ForceAll {
		return Decision{Fetch: true, Reason: ReasonForced}
	}
	if entry.AssumeComplete {
		return Decision{Fetch: false, Reason: ReasonComplete}
	}
	if policy.SkipRecentDays > 0 && entry.LastDownloaded != nil {
		window := time.Duration(policy.SkipRecentDays) * 24 * time.Hour
		if now.Sub(*entry.LastDownloaded) <= window {
			return Decision{Fetch: false, Reason: ReasonRecent}
		}
	}
	return Decision{Fetch: true, Reason: ReasonRefresh}
}
