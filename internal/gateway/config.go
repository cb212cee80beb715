package gateway

// Config collects the recognized Gateway options from spec §6.
type Config struct {
	RateLimitPerMinute          int
	APIKeysByScope              map[string]string // api key -> scope (admin|write|read)
	IdempotencyRequiredForKinds []string
	// ProjectorEndpoints maps a lens name (relational, semantic, graph,
	// emo-translator) to its base HTTP URL, used for admin fan-out and
	// the admin/health watermark summary.
	ProjectorEndpoints map[string]string
}

// scopeRank orders scopes so a higher-privilege key satisfies a
// lower-privilege requirement: admin can do anything write can, write can
// do anything read can.
var scopeRank = map[string]int{
	"read":  1,
	"write": 2,
	"admin": 3,
}

func scopeSatisfies(have, need string) bool {
	return scopeRank[have] >= scopeRank[need]
}

func (c Config) requiresIdempotency(kind string) bool {
	for _, k := range c.IdempotencyRequiredForKinds {
		if k == kind {
			return true
		}
	}
	return false
}
