package scenario

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnresolvableScenario is matched by every *UnresolvableError.
	ErrUnresolvableScenario = errors.New("moody: unresolvable scenario")

	// ErrInvalidScenario is returned for malformed scenario input.
	ErrInvalidScenario = errors.New("moody: invalid scenario")
)

// UnresolvableError reports the documents left when a cycle created nothing.
// Their placeholders are either missing from the scenario or form a cycle.
type UnresolvableError struct {
	Cycle     int
	Remaining []Item
}

func (e *UnresolvableError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "moody: unresolvable scenario: %d documents remain after cycle %d", len(e.Remaining), e.Cycle)
	for i, item := range e.Remaining {
		if i == 5 {
			fmt.Fprintf(&b, "; and %d more", len(e.Remaining)-i)
			break
		}
		fmt.Fprintf(&b, "; %s needs %s", item.Table, strings.Join(item.Needs, ","))
	}
	return b.String()
}

// Is matches ErrUnresolvableScenario.
func (e *UnresolvableError) Is(target error) bool {
	return target == ErrUnresolvableScenario
}
