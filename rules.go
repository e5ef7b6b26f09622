package authrisk

import (
	"context"
	"fmt"
	"strings"
)

// Additive rule weights. Count tiers are mutually exclusive: only the
// highest applicable tier contributes, never a sum across tiers.
const (
	weightFailedLoginsLow    = 0.3 // 3-5 failed logins in window
	weightFailedLoginsMid    = 0.5 // 6-10
	weightFailedLoginsHigh   = 0.7 // 11+
	weightFailedTOTPLow      = 0.4 // 3-5 failed 2FA attempts in window
	weightFailedTOTPMid      = 0.6 // 6-10
	weightFailedTOTPHigh     = 0.8 // 11+
	weightIPChanged          = 0.2
	weightUserAgentChanged   = 0.1
	weightResetThenLogin     = 0.2
	reasonNoRuleFired        = "Normal authentication pattern detected"
	reasonIncompleteAnalysis = "Analysis incomplete - event window unavailable"
)

// RuleAssessor is the default, purely rule-based [Assessor]. It is a
// deterministic function of the event window: the same window always yields
// the same score and reason, in the same rule order.
type RuleAssessor struct{}

// Assess scores the window, which must be ordered oldest first and include
// the event under analysis as its newest entry.
func (RuleAssessor) Assess(_ context.Context, event AuthEvent, window []AuthEvent) (*FraudAssessment, error) {
	score, reason := scoreEventWindow(event, window)
	return &FraudAssessment{
		EventID:   event.ID,
		UserID:    event.UserID,
		Username:  event.Username,
		RiskScore: score,
		Reason:    reason,
	}, nil
}

// scoreEventWindow applies the additive scoring rules to one user's event
// window. Rules fire in a fixed order and their reasons join with ", "; the
// final score clamps to [0,1].
func scoreEventWindow(event AuthEvent, window []AuthEvent) (float64, string) {
	score := 0.0
	var reasons []string

	failedLogins := countByType(window, EventLoginFailure)
	switch {
	case failedLogins >= 11:
		score += weightFailedLoginsHigh
		reasons = append(reasons, fmt.Sprintf("Severe brute force attack detected (%d failed login attempts in window)", failedLogins))
	case failedLogins >= 6:
		score += weightFailedLoginsMid
		reasons = append(reasons, fmt.Sprintf("High number of failed login attempts (%d in window)", failedLogins))
	case failedLogins >= 3:
		score += weightFailedLoginsLow
		reasons = append(reasons, fmt.Sprintf("Multiple failed login attempts (%d in window)", failedLogins))
	}

	failedTOTP := countByType(window, EventTOTPFailure)
	switch {
	case failedTOTP >= 11:
		score += weightFailedTOTPHigh
		reasons = append(reasons, fmt.Sprintf("Severe 2FA brute force attack detected (%d failed attempts in window)", failedTOTP))
	case failedTOTP >= 6:
		score += weightFailedTOTPMid
		reasons = append(reasons, fmt.Sprintf("High number of failed 2FA attempts (%d in window)", failedTOTP))
	case failedTOTP >= 3:
		score += weightFailedTOTPLow
		reasons = append(reasons, fmt.Sprintf("Multiple failed 2FA attempts (%d in window)", failedTOTP))
	}

	if prev, ok := precedingEvent(event, window); ok {
		if event.IPAddress != "" && prev.IPAddress != "" && event.IPAddress != prev.IPAddress {
			score += weightIPChanged
			reasons = append(reasons, "IP address changed from previous event")
		}
		if event.UserAgent != "" && prev.UserAgent != "" && event.UserAgent != prev.UserAgent {
			score += weightUserAgentChanged
			reasons = append(reasons, "User agent changed from previous event")
		}
	}

	if resetFollowedByLogin(window) {
		score += weightResetThenLogin
		reasons = append(reasons, "Login succeeded shortly after a password reset")
	}

	if score > 1.0 {
		score = 1.0
	}

	if len(reasons) == 0 {
		return score, reasonNoRuleFired
	}
	return score, strings.Join(reasons, ", ")
}

func countByType(window []AuthEvent, eventType EventType) int {
	n := 0
	for _, e := range window {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

// precedingEvent returns the event immediately before the one under
// analysis. The window is ordered oldest first with the analyzed event as
// its newest entry; matching by ID tolerates duplicate timestamps.
func precedingEvent(event AuthEvent, window []AuthEvent) (AuthEvent, bool) {
	for i := len(window) - 1; i >= 0; i-- {
		if window[i].ID == event.ID {
			if i == 0 {
				return AuthEvent{}, false
			}
			return window[i-1], true
		}
	}
	// The analyzed event is not in the window; treat the newest entry as
	// its predecessor.
	if len(window) == 0 {
		return AuthEvent{}, false
	}
	return window[len(window)-1], true
}

// resetFollowedByLogin reports whether a password_reset event is later
// followed by a login_success within the same window.
func resetFollowedByLogin(window []AuthEvent) bool {
	seenReset := false
	for _, e := range window {
		switch e.Type {
		case EventPasswordReset:
			seenReset = true
		case EventLoginSuccess:
			if seenReset {
				return true
			}
		}
	}
	return false
}
