package composer

import (
	"errors"
	"fmt"
)

// Settings tune prompt construction, generation and post-processing. They can
// be swapped while the composer is serving.
type Settings struct {
	Persona     string
	Temperature float64
	MaxTokens   int

	// TopK is how many past turns are recalled per message.
	TopK int
	// CallbackMinScore is the similarity a past line needs before the prompt
	// suggests calling back to it.
	CallbackMinScore float64

	// PlayfulProbability and FollowUpProbability are disjoint chances of
	// decorating a reply; their sum must not exceed one.
	PlayfulProbability  float64
	FollowUpProbability float64

	// Cost per approximated token.
	InputTokenRate  float64
	OutputTokenRate float64

	FallbackReply string
}

// Validate checks ranges and the probability sum.
func (s Settings) Validate() error {
	var errs []error
	if s.Persona == "" {
		errs = append(errs, errors.New("persona is required"))
	}
	if s.FallbackReply == "" {
		errs = append(errs, errors.New("fallback reply is required"))
	}
	if s.Temperature < 0 || s.Temperature > 2 {
		errs = append(errs, fmt.Errorf("temperature %v out of range [0, 2]", s.Temperature))
	}
	if s.MaxTokens < 1 {
		errs = append(errs, fmt.Errorf("max tokens %d must be positive", s.MaxTokens))
	}
	if s.TopK < 0 {
		errs = append(errs, fmt.Errorf("top k %d must not be negative", s.TopK))
	}
	if s.PlayfulProbability < 0 || s.FollowUpProbability < 0 {
		errs = append(errs, errors.New("probabilities must not be negative"))
	}
	if s.PlayfulProbability+s.FollowUpProbability > 1 {
		errs = append(errs, fmt.Errorf("playful (%v) and follow-up (%v) probabilities sum past 1",
			s.PlayfulProbability, s.FollowUpProbability))
	}
	if s.InputTokenRate < 0 || s.OutputTokenRate < 0 {
		errs = append(errs, errors.New("token rates must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("composer settings: %w", errors.Join(errs...))
	}
	return nil
}
