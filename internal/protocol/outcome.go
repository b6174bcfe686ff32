package protocol

import (
	"fmt"

	"printlink/internal/services"
)

// OutcomeKind tags how a command terminated.
type OutcomeKind int

const (
	OutcomeOK OutcomeKind = iota
	OutcomeError
	OutcomeFatal
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeOK:
		return "ok"
	case OutcomeError:
		return "error"
	case OutcomeFatal:
		return "fatal"
	default:
		return fmt.Sprintf("outcome(%d)", int(k))
	}
}

// Outcome is the single terminal result of a command. Response is set for OK
// outcomes and, when the peer supplied one, for Error outcomes.
type Outcome struct {
	Kind     OutcomeKind
	Response Response
	Err      error
}

// Ok builds a successful outcome.
func Ok(resp Response) Outcome { return Outcome{Kind: OutcomeOK, Response: resp} }

// Failed builds an error outcome.
func Failed(resp Response, err error) Outcome {
	return Outcome{Kind: OutcomeError, Response: resp, Err: err}
}

// Fatal builds a fatal outcome. The error always matches services.ErrQueueFatal.
func Fatal(err error) Outcome {
	if err == nil {
		err = services.ErrQueueFatal
	} else {
		err = fmt.Errorf("%w: %w", services.ErrQueueFatal, err)
	}
	return Outcome{Kind: OutcomeFatal, Err: err}
}

// Result unpacks the outcome into a response and error pair.
func (o Outcome) Result() (Response, error) {
	if o.Kind == OutcomeOK {
		return o.Response, nil
	}
	return o.Response, o.Err
}
