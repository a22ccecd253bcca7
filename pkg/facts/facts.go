// Package facts pulls lightweight user facts out of a single message: a
// first name, likes and dislikes, and whether the user is asking for their
// own name.
package facts

import (
	"context"
	"fmt"

	"github.com/ellachat/ella/pkg/llm"
	"github.com/ellachat/ella/pkg/logger"
	"github.com/ellachat/ella/pkg/retry"
)

// Strategy names accepted by New.
const (
	StrategyHeuristic = "heuristic"
	StrategyLLM       = "llm"
)

// Preferences are the likes and dislikes stated in one message.
type Preferences struct {
	Likes    []string `json:"likes"`
	Dislikes []string `json:"dislikes"`
}

// Empty reports whether no preference was found.
func (p Preferences) Empty() bool {
	return len(p.Likes) == 0 && len(p.Dislikes) == 0
}

// Extractor finds facts in a message. Extraction never fails from the
// caller's point of view: problems degrade to "nothing found".
type Extractor interface {
	ExtractName(ctx context.Context, text string) (string, bool)
	ExtractPreferences(ctx context.Context, text string) Preferences
	IsNameQuery(ctx context.Context, text string) bool
}

// New builds the extractor for strategy. The llm strategy requires gen.
func New(strategy string, gen llm.Generator, policy retry.Policy, log logger.Logger) (Extractor, error) {
	switch strategy {
	case "", StrategyHeuristic:
		return NewHeuristic(), nil
	case StrategyLLM:
		if gen == nil {
			return nil, fmt.Errorf("facts: %s strategy needs a generator", StrategyLLM)
		}
		return NewDelegated(gen, policy, log), nil
	default:
		return nil, fmt.Errorf("facts: unknown strategy %q", strategy)
	}
}
