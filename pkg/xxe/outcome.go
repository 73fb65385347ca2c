package xxe

// Outcome is the terminal result of one exploit attempt.
type Outcome int

const (
	OutcomeUnknown Outcome = iota
	OutcomeUnreachable
	OutcomeLoginFailed
	OutcomeInjectionFailed
	OutcomeBadCookie
	OutcomeNotVulnerable
	OutcomePatched
	OutcomeEmptyFile
	OutcomeLeaked
)

var outcomeNames = map[Outcome]string{
	OutcomeUnknown:         "unknown",
	OutcomeUnreachable:     "unreachable",
	OutcomeLoginFailed:     "login_failed",
	OutcomeInjectionFailed: "injection_failed",
	OutcomeBadCookie:       "bad_cookie",
	OutcomeNotVulnerable:   "not_vulnerable",
	OutcomePatched:         "patched",
	OutcomeEmptyFile:       "empty_file",
	OutcomeLeaked:          "leaked",
}

func (o Outcome) String() string {
	if name, ok := outcomeNames[o]; ok {
		return name
	}
	return "unknown"
}

// ParseOutcome is the inverse of String.
func ParseOutcome(s string) Outcome {
	for o, name := range outcomeNames {
		if name == s {
			return o
		}
	}
	return OutcomeUnknown
}

// Message is the human-readable status shown to the operator.
func (o Outcome) Message() string {
	switch o {
	case OutcomeUnreachable:
		return "Unable to connect"
	case OutcomeLoginFailed:
		return "Failed to retrieve the session cookie"
	case OutcomeInjectionFailed:
		return "HTTP connection during injection failed, aborting"
	case OutcomeBadCookie:
		return "Bad cookie provided"
	case OutcomeNotVulnerable:
		return "Not vulnerable"
	case OutcomePatched:
		return "Loot empty, F5 BIG-IP is likely patched"
	case OutcomeEmptyFile:
		return "Retrieved empty file"
	case OutcomeLeaked:
		return "Remote file retrieved"
	default:
		return "Unknown outcome"
	}
}

// Failed reports whether the attempt ended before a verdict on the target
// could be reached.
func (o Outcome) Failed() bool {
	switch o {
	case OutcomeUnreachable, OutcomeLoginFailed, OutcomeInjectionFailed, OutcomeBadCookie, OutcomeUnknown:
		return true
	}
	return false
}

// Result is what the classifier decides for one response.
type Result struct {
	Outcome    Outcome
	Detail     string
	Loot       []byte
	Filename   string
	SourcePath string
}
