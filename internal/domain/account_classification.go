package domain

import "strings"

// AccountKind tells how an account reaches the upstream platform.
type AccountKind string

const (
	AccountKindDirect   AccountKind = "direct"
	AccountKindPartner  AccountKind = "partner"
	AccountKindOfficial AccountKind = "official"
)

func ParseAccountKind(raw string) (AccountKind, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "direct", "user", "bot":
		return AccountKindDirect, nil
	case "partner":
		return AccountKindPartner, nil
	case "official", "api":
		return AccountKindOfficial, nil
	default:
		return "", validationError("unknown account kind %q", raw)
	}
}

// DrainsUpscalesGreedily reports whether the consumer empties the whole
// upscale backlog in one pass. Direct accounts take one upscale per pass.
func (k AccountKind) DrainsUpscalesGreedily() bool {
	return k == AccountKindPartner || k == AccountKindOfficial
}

func (k AccountKind) Label() string {
	switch k {
	case AccountKindPartner:
		return "Partner"
	case AccountKindOfficial:
		return "Official"
	default:
		return "Direct"
	}
}
