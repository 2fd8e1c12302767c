package dispatch

import "context"

type outcome int

const (
	outcomeSucceeded outcome = iota
	outcomeRetry
	outcomeCancelled
	outcomeExhausted
)

func (o outcome) String() string {
	switch o {
	case outcomeSucceeded:
		return "succeeded"
	case outcomeRetry:
		return "retry"
	case outcomeCancelled:
		return "cancelled"
	case outcomeExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// attemptState counts failures across one dispatch call. It is never reset
// by a success: the limit bounds failures over the whole loop.
type attemptState struct {
	limit    int
	failures int
}

// next classifies the result of one attempt.
func (s *attemptState) next(ctx context.Context, err error) outcome {
	if err == nil {
		return outcomeSucceeded
	}
	// Any failure observed while cancelled is cancellation.
	if ctx.Err() != nil {
		return outcomeCancelled
	}
	s.failures++
	if IsNoRetry(err) {
		return outcomeExhausted
	}
	if s.failures < s.limit {
		return outcomeRetry
	}
	return outcomeExhausted
}
