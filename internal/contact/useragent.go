package contact

import "math/rand/v2"

// DefaultUserAgents are desktop browser agents sent with website fetches.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:89.0) Gecko/20100101 Firefox/89.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/14.1.1 Safari/605.1.15",
}

// UserAgentSelector picks the User-Agent header for a request.
type UserAgentSelector interface {
	UserAgent() string
}

// RandomSelector picks uniformly from a fixed list.
type RandomSelector struct {
	agents []string
}

// NewRandomSelector returns a selector over agents, or DefaultUserAgents
// when none are given.
func NewRandomSelector(agents ...string) *RandomSelector {
	if len(agents) == 0 {
		agents = DefaultUserAgents
	}
	return &RandomSelector{agents: agents}
}

func (s *RandomSelector) UserAgent() string {
	return s.agents[rand.IntN(len(s.agents))]
}

// FixedSelector always returns the same agent.
type FixedSelector string

func (f FixedSelector) UserAgent() string { return string(f) }
