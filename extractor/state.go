package extractor

import (
	"fmt"

	"deal-scraper/internal/types"
)

var pageTransitions = map[types.PageState][]types.PageState{
	"":                        {types.PageLoading},
	types.PageLoading:         {types.PageLoaded, types.PageTimedOut, types.PageCaptchaDetected, types.PageFailed},
	types.PageTimedOut:        {types.PageLoading, types.PageSkipped},
	types.PageCaptchaDetected: {types.PageLoading, types.PageSkipped},
	types.PageLoaded:          {types.PageExtracted},
}

// pageMachine tracks one page through its states. The first illegal
// transition is kept in err and the state is left unchanged.
type pageMachine struct {
	state   types.PageState
	history []types.PageState
	err     error
}

func (m *pageMachine) to(next types.PageState) {
	if m.err != nil {
		return
	}
	for _, allowed := range pageTransitions[m.state] {
		if allowed == next {
			m.state = next
			m.history = append(m.history, next)
			return
		}
	}
	m.err = fmt.Errorf("illegal page transition %q -> %q", m.state, next)
}
