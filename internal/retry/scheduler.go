// Package retry implements the tiered retry schedule used for outbound
// network calls. The schedule is plain text pushed by the network after
// registration ("seconds,attempts|..."), so a device can have its backoff
// behavior tuned without a client release.
package retry

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultSchedule is used whenever a pushed schedule fails to parse.
const DefaultSchedule = "5,2|30,2|60,1|120,1|300,9|600,6|900,*"

// Unlimited marks a tier with no attempt cap.
const Unlimited = -1

// neverDelay is reported once a scheduler has no usable tiers left.
const neverDelay = time.Duration(1<<62 - 1)

// Tier is one rung of the schedule: retry after Delay, at most MaxAttempts
// times (Unlimited for no cap).
type Tier struct {
	Delay       time.Duration
	MaxAttempts int
}

// ParseSchedule parses "seconds,attempts|seconds,attempts|..." into ordered
// tiers. "*" as the attempt count means unlimited.
func ParseSchedule(schedule string) ([]Tier, error) {
	if strings.TrimSpace(schedule) == "" {
		return nil, fmt.Errorf("empty schedule")
	}
	var tiers []Tier
	for _, raw := range strings.Split(schedule, "|") {
		parts := strings.Split(raw, ",")
		if len(parts) != 2 {
			return nil, fmt.Errorf("malformed tier %q", raw)
		}
		seconds, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil || seconds < 0 {
			return nil, fmt.Errorf("malformed delay in tier %q", raw)
		}
		attempts := Unlimited
		if count := strings.TrimSpace(parts[1]); count != "*" {
			attempts, err = strconv.Atoi(count)
			if err != nil || attempts < 1 {
				return nil, fmt.Errorf("malformed attempt count in tier %q", raw)
			}
		}
		tiers = append(tiers, Tier{
			Delay:       time.Duration(seconds) * time.Second,
			MaxAttempts: attempts,
		})
	}
	return tiers, nil
}

// Scheduler walks a parsed schedule one failed attempt at a time.
type Scheduler struct {
	mu       sync.Mutex
	tiers    []Tier
	tierIdx  int
	attempts int
	logger   *slog.Logger
}

// NewScheduler builds a scheduler from the given schedule text, falling back
// to DefaultSchedule when it does not parse. A default that fails to parse is
// unexpected and yields a scheduler that never retries.
func NewScheduler(schedule string, logger *slog.Logger) *Scheduler {
	s := &Scheduler{logger: logger}
	s.SetSchedule(schedule)
	return s
}

// SetSchedule replaces the schedule and resets progress. It applies the same
// fallback rules as NewScheduler, so a garbage server push can only ever
// downgrade the device to the default schedule.
func (s *Scheduler) SetSchedule(schedule string) {
	tiers, err := ParseSchedule(schedule)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("retry schedule rejected, using default", "schedule", schedule, "error", err)
		}
		tiers, err = ParseSchedule(DefaultSchedule)
		if err != nil {
			tiers = nil
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tiers = tiers
	s.tierIdx = 0
	s.attempts = 0
}

// Reset rewinds to the first tier, e.g. after a successful call.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tierIdx = 0
	s.attempts = 0
}

// Delay returns the backoff delay of the current tier.
func (s *Scheduler) Delay() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tierIdx >= len(s.tiers) {
		return neverDelay
	}
	return s.tiers[s.tierIdx].Delay
}

// Advance records one failed attempt. It moves to the next tier once the
// current one is exhausted and returns false only when the schedule has no
// attempts left.
func (s *Scheduler) Advance() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tierIdx >= len(s.tiers) {
		return false
	}
	s.attempts++
	tier := s.tiers[s.tierIdx]
	if tier.MaxAttempts != Unlimited && s.attempts > tier.MaxAttempts {
		s.tierIdx++
		if s.tierIdx >= len(s.tiers) {
			return false
		}
		s.attempts = 1
	}
	return true
}

// Retriable reports whether an HTTP status is worth retrying. Client, auth,
// and not-found rejections are terminal.
func Retriable(status int) bool {
	switch status {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return false
	}
	return true
}
