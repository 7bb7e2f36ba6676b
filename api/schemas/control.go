package schemas

// -- Control Authority --

// ControlMode identifies who currently drives the actor.
type ControlMode string

const (
	ModeHuman ControlMode = "HUMAN" // The operator drives; the decision server only observes.
	ModeAI    ControlMode = "AI"    // The decision server drives; operator input is suppressed.
)

// String implements fmt.Stringer.
func (m ControlMode) String() string { return string(m) }

// Valid reports whether m is one of the known modes.
func (m ControlMode) Valid() bool {
	return m == ModeHuman || m == ModeAI
}

// Authority is the declared trust level of an outbound decision request.
type Authority string

const (
	AuthorityAdvisory      Authority = "ADVISORY"      // Shadow traffic, the reply will not be acted upon.
	AuthorityAuthoritative Authority = "AUTHORITATIVE" // The reply will be actuated.
	AuthorityOverride      Authority = "OVERRIDE"      // Reserved.

	// AuthorityUnknown is the sentinel for a request whose authority could not be
	// determined. Requests carrying it are always rejected.
	AuthorityUnknown Authority = "UNKNOWN"
)

// String implements fmt.Stringer.
func (a Authority) String() string { return string(a) }

// AuthorityFor derives the authority of a request built while mode is in effect.
func AuthorityFor(mode ControlMode) Authority {
	if mode == ModeAI {
		return AuthorityAuthoritative
	}
	return AuthorityAdvisory
}

// Policy authority labels tell the server whether it may learn actively or only
// from observed human play.
const (
	PolicyActiveLearning = "ACTIVE_LEARNING_PERMIT"
	PolicyShadowLearning = "SHADOW_LEARNING_PERMIT"
)

// PolicyAuthorityFor returns the policy_authority label for mode.
func PolicyAuthorityFor(mode ControlMode) string {
	if mode == ModeAI {
		return PolicyActiveLearning
	}
	return PolicyShadowLearning
}
