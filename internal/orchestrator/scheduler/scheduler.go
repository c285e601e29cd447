// Package scheduler implements the turn scheduler: the per-step decision of
// which personas speak next in a session, given the latest message's
// context tags, the prior speaker, and each persona's recent turn history.
package scheduler

import (
	"sort"

	"go.uber.org/zap"

	"github.com/kandev/personaorch/internal/common/logger"
	v1 "github.com/kandev/personaorch/pkg/api/v1"
)

// defaultSelectThreshold is the score a top candidate must clear to speak
// under normal conditions.
const defaultSelectThreshold = 0.5

// quietSelectThreshold replaces defaultSelectThreshold once the session has
// gone silent for silence_threshold consecutive turns, making it easier for
// a proactive persona to break the silence.
const quietSelectThreshold = 0.3

// minTopScore is the floor a top-ranked candidate must clear regardless of
// threshold, so a near-zero score never gets picked just because nobody
// else is competing.
const minTopScore = 0.4

// perRankPenalty is added to the threshold for each persona already chosen
// this step, so later picks need a progressively stronger score.
const perRankPenalty = 0.1

// monopolyPenalty is subtracted from a persona's score once it has spoken
// on consecutive_speaks>=2 prior turns in a row.
const monopolyPenalty = 0.3

// monopolyTrigger is the consecutive-speaks count at which monopolyPenalty
// starts applying.
const monopolyTrigger = 2

// staleTurnGap is how many turns a persona must have been silent before it
// starts accruing the staleness bonus.
const staleTurnGap = 5

// staleBonusPerTurn and staleBonusCap bound the staleness bonus: 0.05 per
// turn past staleTurnGap, capped at 0.3.
const (
	staleBonusPerTurn = 0.05
	staleBonusCap     = 0.3
)

// cooldownTurns is how many turns must pass since a persona last spoke
// before it is eligible to be scored again; a persona chosen on the
// immediately preceding turn (gap == 1) stays in cooldown.
const cooldownTurns = 1

// handoffBonus rewards a persona other than the last speaker once the last
// speaker has held the floor for more than one turn.
const handoffBonus = 0.15

// directAddressBonus rewards a proactive persona when the triggering
// message came from the user.
const directAddressBonus = 0.2

// directAddressProactivityFloor is the minimum proactivity for
// directAddressBonus to apply.
const directAddressProactivityFloor = 0.6

// Rand supplies the uniform(-0.1, +0.1) noise term mixed into each score.
// Production code wires math/rand; tests inject a stub (e.g. one that
// always returns 0) for deterministic assertions.
type Rand interface {
	// Jitter returns a value in [-0.1, 0.1].
	Jitter() float64
}

// Step is one scheduling decision: which personas, if any, speak next.
type Step struct {
	// ContextTags are @-mention handles extracted from the triggering
	// message, in the order they appeared.
	ContextTags []string
	// LastSpeaker is the handle (or v1.MessageSenderUser) that produced the
	// immediately preceding message, or "" if this is the session's first
	// turn.
	LastSpeaker string
	// IsUserMessage is true when the triggering message came from the human
	// user rather than from a persona's own continuation.
	IsUserMessage bool
}

// candidate is a scored persona awaiting threshold selection.
type candidate struct {
	persona v1.PersonaRef
	score   float64
}

// Scheduler decides which personas speak on each step of a session.
type Scheduler struct {
	log  *logger.Logger
	rand Rand
}

// New returns a Scheduler that draws jitter from rnd.
func New(log *logger.Logger, rnd Rand) *Scheduler {
	return &Scheduler{
		log:  log.WithFields(zap.String("component", "scheduler")),
		rand: rnd,
	}
}

// Decide runs one scheduling step against state, choosing from personas,
// and returns the chosen personas in the order they should speak. state is
// mutated in place to reflect the turn that was just decided; callers keep
// one SchedulerState per live session.
func (s *Scheduler) Decide(state *v1.SchedulerState, personas []v1.PersonaRef, step Step) []v1.PersonaRef {
	byHandle := make(map[string]v1.PersonaRef, len(personas))
	for _, p := range personas {
		byHandle[p.Handle] = p
	}

	chosen := s.selectByMention(state, byHandle, step)
	if len(chosen) == 0 {
		chosen = s.selectByScore(state, personas, step)
	}

	s.commit(state, byHandle, chosen, step)
	return chosen
}

// effectiveMaxAgents normalizes a non-positive max_agents_per_turn to
// "unlimited" (the full persona roster), per the configured-cap contract: a
// zero or negative cap means every eligible persona may speak in one step.
func effectiveMaxAgents(state *v1.SchedulerState, personaCount int) int {
	if state.MaxAgentsPerTurn <= 0 {
		return personaCount
	}
	return state.MaxAgentsPerTurn
}

// selectByMention honors explicit @-mentions first: any mentioned handle
// that names a known persona whose last_turn precedes the current
// turn_counter (i.e. it isn't already mid-turn) speaks, in mention order,
// capped at max_agents_per_turn (0 or negative means unlimited).
func (s *Scheduler) selectByMention(state *v1.SchedulerState, byHandle map[string]v1.PersonaRef, step Step) []v1.PersonaRef {
	maxAgents := effectiveMaxAgents(state, len(byHandle))

	var chosen []v1.PersonaRef
	seen := make(map[string]bool)
	for _, handle := range step.ContextTags {
		if seen[handle] {
			continue
		}
		persona, ok := byHandle[handle]
		if !ok {
			continue
		}
		turnState := state.StateFor(handle)
		if turnState.LastTurn >= state.TurnCounter {
			continue
		}
		seen[handle] = true
		chosen = append(chosen, persona)
		if len(chosen) >= maxAgents {
			break
		}
	}
	return chosen
}

// selectByScore scores every persona not already excluded by mention
// handling and not currently in cooldown, then walks the sorted candidates
// applying the threshold rule.
func (s *Scheduler) selectByScore(state *v1.SchedulerState, personas []v1.PersonaRef, step Step) []v1.PersonaRef {
	maxAgents := effectiveMaxAgents(state, len(personas))

	candidates := make([]candidate, 0, len(personas))
	for _, p := range personas {
		turnState := state.StateFor(p.Handle)
		if turnState.LastTurn >= 0 && state.TurnCounter-turnState.LastTurn <= cooldownTurns {
			continue
		}
		candidates = append(candidates, candidate{
			persona: p,
			score:   s.score(state, p, step),
		})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	threshold := defaultSelectThreshold
	if state.SilenceCounter >= state.SilenceThreshold {
		threshold = quietSelectThreshold
	}

	var chosen []v1.PersonaRef
	for i, c := range candidates {
		if len(chosen) >= maxAgents {
			break
		}
		required := threshold + perRankPenalty*float64(len(chosen))
		if i == 0 {
			required = maxFloat(minTopScore, threshold)
		}
		if c.score < required {
			break
		}
		chosen = append(chosen, c.persona)
	}

	if step.IsUserMessage && len(chosen) == 0 && len(candidates) > 0 {
		chosen = append(chosen, candidates[0].persona)
	}
	return chosen
}

// score computes one persona's raw speaking score for this step, per the
// mention-free scoring formula: proactivity, adjusted for monopoly,
// staleness, speaker handoff, direct address, and a random jitter term.
func (s *Scheduler) score(state *v1.SchedulerState, p v1.PersonaRef, step Step) float64 {
	turnState := state.StateFor(p.Handle)
	score := p.ClampedProactivity()

	if turnState.ConsecutiveSpeaks >= monopolyTrigger {
		score -= monopolyPenalty
	}

	if turnState.LastTurn >= 0 {
		gap := state.TurnCounter - turnState.LastTurn
		if gap > staleTurnGap {
			bonus := float64(gap-staleTurnGap) * staleBonusPerTurn
			if bonus > staleBonusCap {
				bonus = staleBonusCap
			}
			score += bonus
		}
		if step.LastSpeaker != "" && step.LastSpeaker != p.Handle && gap > 1 {
			score += handoffBonus
		}
	} else if step.LastSpeaker != "" && step.LastSpeaker != p.Handle {
		score += handoffBonus
	}

	if step.IsUserMessage && p.ClampedProactivity() > directAddressProactivityFloor {
		score += directAddressBonus
	}

	score += s.rand.Jitter()
	return score
}

// commit applies the turn's outcome to state: chosen personas advance
// last_turn and consecutive_speaks, everyone else resets consecutive_speaks,
// silence_counter tracks consecutive empty turns, and turn_counter advances.
func (s *Scheduler) commit(state *v1.SchedulerState, byHandle map[string]v1.PersonaRef, chosen []v1.PersonaRef, step Step) {
	chosenSet := make(map[string]bool, len(chosen))
	for _, p := range chosen {
		chosenSet[p.Handle] = true
		turnState := state.StateFor(p.Handle)
		turnState.LastTurn = state.TurnCounter
		turnState.ConsecutiveSpeaks++
	}
	for handle, turnState := range state.Personas {
		if !chosenSet[handle] {
			turnState.ConsecutiveSpeaks = 0
		}
	}

	if len(chosen) == 0 {
		state.SilenceCounter++
	} else {
		state.SilenceCounter = 0
	}
	state.TurnCounter++

	s.log.Debug("turn scheduled",
		zap.Int("turn", state.TurnCounter-1),
		zap.Int("chosen_count", len(chosen)),
		zap.Int("silence_counter", state.SilenceCounter),
	)
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
