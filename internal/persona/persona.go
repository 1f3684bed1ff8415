// Package persona models the evolving on-air personality used by the
// dialogue generator. State drifts toward phase-indexed targets with a
// little noise, the relationship phase only ever moves forward, and a
// short FIFO of memorable moments carries continuity between episodes.
package persona

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"regexp"
	"strings"
)

// Phase is a relationship-maturity stage. Phases order strictly and
// never regress.
type Phase string

const (
	Strangers     Phase = "strangers"
	Acquaintances Phase = "acquaintances"
	Colleagues    Phase = "colleagues"
	Friends       Phase = "friends"
	CloseFriends  Phase = "close_friends"
)

var phaseOrder = []Phase{Strangers, Acquaintances, Colleagues, Friends, CloseFriends}

// phaseIndex returns the position of p in the progression, or 0 for an
// unknown phase.
func phaseIndex(p Phase) int {
	for i, candidate := range phaseOrder {
		if candidate == p {
			return i
		}
	}
	return 0
}

// Dimensions holds the ten bounded personality values, all in [0,1].
// The first four describe the host, the next four the guest, the last
// two the relationship between them.
type Dimensions struct {
	Warmth        float64 `json:"warmth"`
	Humor         float64 `json:"humor"`
	Formality     float64 `json:"formality"`
	SelfAwareness float64 `json:"self_awareness"`

	Confidence  float64 `json:"confidence"`
	Playfulness float64 `json:"playfulness"`
	Directness  float64 `json:"directness"`
	Empathy     float64 `json:"empathy"`

	MutualComfort      float64 `json:"mutual_comfort"`
	FlirtationTendency float64 `json:"flirtation_tendency"`
}

// Moment is one memorable beat extracted from generated dialogue.
type Moment struct {
	Episode int    `json:"episode"`
	Text    string `json:"text"`
	Type    string `json:"type"`
}

// State is the full persisted personality for one locale.
type State struct {
	Locale       string     `json:"locale"`
	Phase        Phase      `json:"phase"`
	EpisodeCount int        `json:"episode_count"`
	HostName     string     `json:"host_name,omitempty"`
	Dimensions   Dimensions `json:"dimensions"`
	Moments      []Moment   `json:"moments,omitempty"`
}

const (
	driftRate  = 0.10  // fraction of the gap closed per evolution
	noiseRange = 0.015 // symmetric uniform noise added after drift

	// MaxMoments bounds the memorable-moment FIFO.
	MaxMoments = 7

	// maxMomentsPerCall bounds how many moments one dialogue may add.
	maxMomentsPerCall = 3
)

// phaseTargets are the values dimensions drift toward while in a phase.
// Formality is the one dimension that falls as the relationship warms.
var phaseTargets = map[Phase]Dimensions{
	Strangers: {
		Warmth: 0.30, Humor: 0.20, Formality: 0.80, SelfAwareness: 0.30,
		Confidence: 0.40, Playfulness: 0.20, Directness: 0.30, Empathy: 0.30,
		MutualComfort: 0.35, FlirtationTendency: 0.00,
	},
	Acquaintances: {
		Warmth: 0.45, Humor: 0.35, Formality: 0.65, SelfAwareness: 0.40,
		Confidence: 0.50, Playfulness: 0.35, Directness: 0.40, Empathy: 0.45,
		MutualComfort: 0.50, FlirtationTendency: 0.05,
	},
	Colleagues: {
		Warmth: 0.60, Humor: 0.50, Formality: 0.50, SelfAwareness: 0.50,
		Confidence: 0.60, Playfulness: 0.50, Directness: 0.55, Empathy: 0.55,
		MutualComfort: 0.65, FlirtationTendency: 0.10,
	},
	Friends: {
		Warmth: 0.75, Humor: 0.65, Formality: 0.35, SelfAwareness: 0.60,
		Confidence: 0.70, Playfulness: 0.65, Directness: 0.65, Empathy: 0.70,
		MutualComfort: 0.80, FlirtationTendency: 0.20,
	},
	CloseFriends: {
		Warmth: 0.90, Humor: 0.80, Formality: 0.20, SelfAwareness: 0.75,
		Confidence: 0.80, Playfulness: 0.80, Directness: 0.75, Empathy: 0.85,
		MutualComfort: 0.95, FlirtationTendency: 0.30,
	},
}

// comfortThresholds gate entry into each phase by mutual comfort. Each
// phase's comfort target sits above the next threshold so the
// relationship always matures eventually, paced by the drift rate.
var comfortThresholds = map[Phase]float64{
	Acquaintances: 0.30,
	Colleagues:    0.45,
	Friends:       0.60,
	CloseFriends:  0.75,
}

// NewState returns the initial state for a locale: strangers, episode
// zero, dimensions at the strangers-phase targets. Comfort starts well
// below its target so the first phase takes a number of episodes to
// clear.
func NewState(locale string) State {
	dims := phaseTargets[Strangers]
	dims.MutualComfort = 0.10
	return State{
		Locale:     locale,
		Phase:      Strangers,
		Dimensions: dims,
	}
}

// Evolve returns a new state one episode further along: every dimension
// drifts toward the current phase's target with noise from rng, then
// the phase advances at most one step when mutual comfort clears the
// next threshold. The input state is not modified.
func Evolve(state State, rng *rand.Rand) State {
	target := phaseTargets[state.Phase]
	old := state.Dimensions

	next := state
	next.Dimensions = Dimensions{
		Warmth:        drift(old.Warmth, target.Warmth, rng),
		Humor:         drift(old.Humor, target.Humor, rng),
		Formality:     drift(old.Formality, target.Formality, rng),
		SelfAwareness: drift(old.SelfAwareness, target.SelfAwareness, rng),

		Confidence:  drift(old.Confidence, target.Confidence, rng),
		Playfulness: drift(old.Playfulness, target.Playfulness, rng),
		Directness:  drift(old.Directness, target.Directness, rng),
		Empathy:     drift(old.Empathy, target.Empathy, rng),

		MutualComfort:      drift(old.MutualComfort, target.MutualComfort, rng),
		FlirtationTendency: drift(old.FlirtationTendency, target.FlirtationTendency, rng),
	}
	next.EpisodeCount = state.EpisodeCount + 1

	// One step forward at most, even when comfort overshoots two
	// thresholds at once.
	if idx := phaseIndex(state.Phase); idx < len(phaseOrder)-1 {
		candidate := phaseOrder[idx+1]
		if next.Dimensions.MutualComfort >= comfortThresholds[candidate] {
			next.Phase = candidate
		}
	}

	return next
}

// drift moves value a fixed fraction of the gap toward target, adds
// symmetric uniform noise, and clamps to [0,1].
func drift(value, target float64, rng *rand.Rand) float64 {
	moved := value + (target-value)*driftRate
	moved += (rng.Float64()*2 - 1) * noiseRange
	return clamp01(moved)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// momentMarker introduces the structured trailer the dialogue prompt
// asks the model to append after the script.
const momentMarker = "MEMORABLE_MOMENTS:"

var momentLineRegex = regexp.MustCompile(`^\[(joke|slip_up|ai_reflection|personal|host_name)\]\s*"([^"]+)"`)

// ExtractMoments parses the structured trailer of a generated dialogue.
// It returns at most three moments, never two of the same type, plus
// any freshly chosen host nickname. A missing marker or an explicit
// "none" yields zero moments; that is a normal outcome, not an error.
func ExtractMoments(text string, state State) ([]Moment, string) {
	_, trailer, found := strings.Cut(text, momentMarker)
	if !found {
		return nil, ""
	}

	var moments []Moment
	var hostName string
	seen := make(map[string]bool)

	for _, line := range strings.Split(trailer, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.EqualFold(line, "none") {
			break
		}

		match := momentLineRegex.FindStringSubmatch(line)
		if match == nil {
			continue
		}
		momentType, quoted := match[1], strings.TrimSpace(match[2])
		if quoted == "" || seen[momentType] {
			continue
		}
		if len(moments) >= maxMomentsPerCall {
			break
		}

		seen[momentType] = true
		if momentType == "host_name" {
			hostName = quoted
		}
		moments = append(moments, Moment{
			Episode: state.EpisodeCount,
			Text:    quoted,
			Type:    momentType,
		})
	}

	return moments, hostName
}

// Store is the persistence the engine needs: an opaque JSON blob per
// locale.
type Store interface {
	LoadPersonality(locale string) ([]byte, error)
	SavePersonality(locale string, state []byte) error
}

// Engine loads, advances, and persists personality state.
type Engine struct {
	store Store
}

func NewEngine(store Store) *Engine {
	return &Engine{store: store}
}

// Load returns the stored state for a locale, or a fresh initial state
// when none exists yet.
func (e *Engine) Load(locale string) (State, error) {
	raw, err := e.store.LoadPersonality(locale)
	if err != nil {
		return State{}, fmt.Errorf("failed to load personality state: %w", err)
	}
	if raw == nil {
		return NewState(locale), nil
	}

	var state State
	if err := json.Unmarshal(raw, &state); err != nil {
		return State{}, fmt.Errorf("corrupt personality state for locale %s: %w", locale, err)
	}
	if state.Locale == "" {
		state.Locale = locale
	}
	return state, nil
}

// AdvanceState evolves the state, folds in moments extracted from the
// generated dialogue, and persists the result. It is the only write
// path to personality state. Callers run at most one advance per
// locale at a time.
func (e *Engine) AdvanceState(state State, generatedText string, rng *rand.Rand) (State, error) {
	next := Evolve(state, rng)

	moments, hostName := ExtractMoments(generatedText, next)
	next.Moments = append(next.Moments, moments...)
	if len(next.Moments) > MaxMoments {
		next.Moments = next.Moments[len(next.Moments)-MaxMoments:]
	}
	if next.HostName == "" && hostName != "" {
		next.HostName = hostName
	}

	raw, err := json.Marshal(next)
	if err != nil {
		return State{}, fmt.Errorf("failed to encode personality state: %w", err)
	}
	if err := e.store.SavePersonality(next.Locale, raw); err != nil {
		return State{}, fmt.Errorf("failed to persist personality state: %w", err)
	}

	return next, nil
}
