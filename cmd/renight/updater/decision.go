package updater

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/Retzilience/ReNight/config"
)

// Outcome of an update check.
type Outcome string

const (
	// OutcomeError covers fetch failures, a concurrent check already in
	// flight, and descriptors with no entry for this platform.
	OutcomeError Outcome = "error"
	// OutcomeDeprecated means the running version may no longer be used;
	// the update is mandatory and snoozing does not apply.
	OutcomeDeprecated Outcome = "deprecated"
	// OutcomeNoUpdate means the running version is current, or the newest
	// version is snoozed.
	OutcomeNoUpdate Outcome = "no_update"
	// OutcomeUpdateAvailable means a newer version can be staged.
	OutcomeUpdateAvailable Outcome = "update_available"
)

// CheckResult carries the outcome plus the descriptor entries a caller needs
// to act on it.
type CheckResult struct {
	Outcome Outcome
	Latest  *UpdateEntry
	Current *UpdateEntry
	Err     error
}

// Decide maps parsed descriptor entries onto an outcome.
//
// The deprecated check runs first and bypasses snoozing: a version marked
// deprecated must update no matter what the user previously dismissed.
func Decide(latest, current *UpdateEntry, runningVersion, skipVersion string, ignoreSkip bool) Outcome {
	if latest == nil {
		return OutcomeError
	}
	if current != nil && current.HasFlag(FlagDeprecated) {
		return OutcomeDeprecated
	}
	if CompareVersions(latest.Version, runningVersion) <= 0 {
		return OutcomeNoUpdate
	}
	if !ignoreSkip {
		if skip := skipVersion; skip != "" && skip == latest.Version {
			return OutcomeNoUpdate
		}
	}
	return OutcomeUpdateAvailable
}

// Checker runs the full descriptor check: fetch, parse, decide, and record
// the check timestamp in the state store.
type Checker struct {
	client  *DescriptorClient
	osTag   string
	version string
	store   *config.Store
	log     *zerolog.Logger

	now func() time.Time
}

func NewChecker(client *DescriptorClient, osTag, version string, store *config.Store, log *zerolog.Logger) *Checker {
	return &Checker{
		client:  client,
		osTag:   osTag,
		version: version,
		store:   store,
		log:     log,
		now:     time.Now,
	}
}

// Check fetches and evaluates the descriptor. ignoreSkip forces the newest
// version to be offered even when it matches the snoozed version.
//
// The check timestamp is recorded for every attempt that reached the network,
// including failed fetches; a check rejected by the in-flight guard or an
// unsupported platform records nothing.
func (c *Checker) Check(ctx context.Context, ignoreSkip bool) CheckResult {
	if c.osTag == "" {
		return CheckResult{Outcome: OutcomeError, Err: ErrUnknownOS}
	}

	text, err := c.client.Fetch(ctx)
	if err == ErrCheckInFlight {
		return CheckResult{Outcome: OutcomeError, Err: err}
	}

	c.recordCheckTimestamp()

	if err != nil {
		c.log.Error().Err(err).Msg("update check failed")
		return CheckResult{Outcome: OutcomeError, Err: err}
	}

	desc := ParseDescriptor(text, c.osTag, c.version)
	skip := c.store.String(config.KeySnoozedVersion)
	outcome := Decide(desc.Latest, desc.Current, c.version, skip, ignoreSkip)

	result := CheckResult{
		Outcome: outcome,
		Latest:  desc.Latest,
		Current: desc.Current,
	}
	if outcome == OutcomeError && result.Err == nil {
		result.Err = errors.New("the update descriptor has no entry for this platform")
	}
	return result
}

// Snooze records that version should not be offered again by ordinary
// checks. Deprecation and --force both override it.
func (c *Checker) Snooze(version string) {
	c.store.Set(config.KeySnoozedVersion, version)
	if err := c.store.Save(); err != nil {
		c.log.Warn().Err(err).Msg("could not persist snoozed version")
	}
}

func (c *Checker) recordCheckTimestamp() {
	c.store.Set(config.KeyLastUpdateCheck, float64(c.now().Unix()))
	if err := c.store.Save(); err != nil {
		c.log.Warn().Err(err).Msg("could not persist update check timestamp")
	}
}
