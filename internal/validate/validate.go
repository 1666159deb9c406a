// Package validate holds the input validation rules applied to every record
// before any cache or backend work happens. All functions are pure; each
// returns nil or an error whose message is safe to echo back to the caller.
//
// Checks are ordered (emptiness, then length, then charset) and the first
// failing check wins, so callers always get the most specific reason.
package validate

import "fmt"

// Length limits for the individual fields.
const (
	MaxAppNameLen   = 64
	MaxSessionIDLen = 128
	MaxAgentIDLen   = 128
	MaxInputBytes   = 100 * 1024
)

// AppName checks that s is a usable application name: non-empty, at most
// MaxAppNameLen characters, alphanumerics plus hyphen and underscore.
func AppName(s string) error {
	return identifier(s, "app_name", MaxAppNameLen)
}

// SessionID checks that s is a usable session ID. Same charset rules as
// AppName with a longer length limit.
func SessionID(s string) error {
	return identifier(s, "session_id", MaxSessionIDLen)
}

// InputText checks that s is non-empty and no larger than MaxInputBytes
// when UTF-8 encoded.
func InputText(s string) error {
	if s == "" {
		return fmt.Errorf("Invalid input: must be a non-empty string")
	}
	if len(s) > MaxInputBytes {
		return fmt.Errorf("Invalid input: exceeds maximum size of 100KB")
	}
	return nil
}

// AgentID checks the backend agent identifier before any Bedrock contact
// is attempted.
func AgentID(s string) error {
	if s == "" {
		return fmt.Errorf("Invalid agent_id: must be a non-empty string")
	}
	if len(s) > MaxAgentIDLen {
		return fmt.Errorf("Invalid agent_id: exceeds maximum length of %d characters", MaxAgentIDLen)
	}
	return nil
}

// ModelID checks a foundation model identifier. Same rules as AgentID.
func ModelID(s string) error {
	if s == "" {
		return fmt.Errorf("Invalid model_id: must be a non-empty string")
	}
	if len(s) > MaxAgentIDLen {
		return fmt.Errorf("Invalid model_id: exceeds maximum length of %d characters", MaxAgentIDLen)
	}
	return nil
}

func identifier(s, field string, maxLen int) error {
	if s == "" {
		return fmt.Errorf("Invalid %s: must be a non-empty string", field)
	}
	if len(s) > maxLen {
		return fmt.Errorf("Invalid %s: exceeds maximum length of %d characters", field, maxLen)
	}
	for _, r := range s {
		if !isIdentRune(r) {
			return fmt.Errorf("Invalid %s: contains invalid characters", field)
		}
	}
	return nil
}

func isIdentRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z':
		return true
	case r >= 'A' && r <= 'Z':
		return true
	case r >= '0' && r <= '9':
		return true
	case r == '-' || r == '_':
		return true
	}
	return false
}
