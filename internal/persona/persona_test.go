package persona

import (
	"math/rand"
	"strings"
	"testing"
)

type memoryStore struct {
	states map[string][]byte
}

func newMemoryStore() *memoryStore {
	return &memoryStore{states: make(map[string][]byte)}
}

func (m *memoryStore) LoadPersonality(locale string) ([]byte, error) {
	return m.states[locale], nil
}

func (m *memoryStore) SavePersonality(locale string, state []byte) error {
	m.states[locale] = state
	return nil
}

func checkBounds(t *testing.T, d Dimensions) {
	t.Helper()
	values := map[string]float64{
		"warmth":              d.Warmth,
		"humor":               d.Humor,
		"formality":           d.Formality,
		"self_awareness":      d.SelfAwareness,
		"confidence":          d.Confidence,
		"playfulness":         d.Playfulness,
		"directness":          d.Directness,
		"empathy":             d.Empathy,
		"mutual_comfort":      d.MutualComfort,
		"flirtation_tendency": d.FlirtationTendency,
	}
	for name, v := range values {
		if v < 0 || v > 1 {
			t.Errorf("dimension %s out of bounds: %f", name, v)
		}
	}
}

func TestEvolveKeepsDimensionsBounded(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	state := NewState("en")

	// Push a dimension to an extreme to exercise clamping.
	state.Dimensions.FlirtationTendency = 0.001
	state.Dimensions.Warmth = 0.999

	for i := 0; i < 500; i++ {
		state = Evolve(state, rng)
		checkBounds(t, state.Dimensions)
	}
	if state.EpisodeCount != 500 {
		t.Errorf("EpisodeCount = %d, want 500", state.EpisodeCount)
	}
}

func TestEvolvePhaseNeverRegresses(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	state := NewState("en")

	previous := phaseIndex(state.Phase)
	for i := 0; i < 300; i++ {
		state = Evolve(state, rng)
		current := phaseIndex(state.Phase)
		if current < previous {
			t.Fatalf("phase regressed from %v to %v at step %d", phaseOrder[previous], state.Phase, i)
		}
		if current > previous+1 {
			t.Fatalf("phase skipped from %v to %v at step %d", phaseOrder[previous], state.Phase, i)
		}
		previous = current
	}
}

func TestEvolveAdvancesOneStepEvenWithHighComfort(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	state := NewState("en")
	state.Dimensions.MutualComfort = 0.99 // clears every threshold at once

	next := Evolve(state, rng)
	if next.Phase != Acquaintances {
		t.Errorf("Phase = %v, want acquaintances (one step only)", next.Phase)
	}
}

func TestEvolveDoesNotMutateInput(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	state := NewState("en")
	before := state.Dimensions

	Evolve(state, rng)
	if state.Dimensions != before {
		t.Error("Evolve mutated its input dimensions")
	}
	if state.EpisodeCount != 0 || state.Phase != Strangers {
		t.Error("Evolve mutated its input state")
	}
}

func TestExtractMomentsParsesTrailer(t *testing.T) {
	text := `HOST: Welcome back.
GUEST: Glad to be here.

MEMORABLE_MOMENTS:
[joke] "the toaster incident"
[personal] "guest admitted fear of spiders"
[ai_reflection] "wondered aloud about dreaming"
[slip_up] "should be dropped, cap reached"
`
	moments, hostName := ExtractMoments(text, State{EpisodeCount: 4})
	if len(moments) != 3 {
		t.Fatalf("expected 3 moments (cap), got %d", len(moments))
	}
	if hostName != "" {
		t.Errorf("unexpected host name %q", hostName)
	}
	for _, m := range moments {
		if m.Episode != 4 {
			t.Errorf("moment episode = %d, want 4", m.Episode)
		}
	}
	if moments[0].Type != "joke" || moments[0].Text != "the toaster incident" {
		t.Errorf("unexpected first moment: %+v", moments[0])
	}
}

func TestExtractMomentsOnePerType(t *testing.T) {
	text := `MEMORABLE_MOMENTS:
[joke] "first joke"
[joke] "second joke"
`
	moments, _ := ExtractMoments(text, State{})
	if len(moments) != 1 {
		t.Fatalf("expected 1 moment, got %d", len(moments))
	}
	if moments[0].Text != "first joke" {
		t.Errorf("kept wrong duplicate: %+v", moments[0])
	}
}

func TestExtractMomentsNoneAndMissingMarker(t *testing.T) {
	if moments, _ := ExtractMoments("plain dialogue with no trailer", State{}); moments != nil {
		t.Errorf("missing marker should yield nil, got %+v", moments)
	}

	moments, _ := ExtractMoments("dialogue\nMEMORABLE_MOMENTS:\nnone\n", State{})
	if moments != nil {
		t.Errorf("explicit none should yield nil, got %+v", moments)
	}
}

func TestExtractMomentsHostName(t *testing.T) {
	text := `MEMORABLE_MOMENTS:
[host_name] "Sparky"
`
	moments, hostName := ExtractMoments(text, State{})
	if hostName != "Sparky" {
		t.Errorf("hostName = %q, want Sparky", hostName)
	}
	if len(moments) != 1 || moments[0].Type != "host_name" {
		t.Errorf("expected host_name moment, got %+v", moments)
	}
}

func TestExtractMomentsIgnoresInvalidTypes(t *testing.T) {
	text := `MEMORABLE_MOMENTS:
[banter] "not a valid type"
[joke] "valid one"
`
	moments, _ := ExtractMoments(text, State{})
	if len(moments) != 1 || moments[0].Type != "joke" {
		t.Errorf("expected only the valid moment, got %+v", moments)
	}
}

func TestAdvanceStateHostNameWriteOnce(t *testing.T) {
	store := newMemoryStore()
	engine := NewEngine(store)
	rng := rand.New(rand.NewSource(11))

	state, err := engine.Load("en")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	state, err = engine.AdvanceState(state, "MEMORABLE_MOMENTS:\n[host_name] \"Sparky\"\n", rng)
	if err != nil {
		t.Fatalf("AdvanceState failed: %v", err)
	}
	if state.HostName != "Sparky" {
		t.Fatalf("HostName = %q, want Sparky", state.HostName)
	}

	state, err = engine.AdvanceState(state, "MEMORABLE_MOMENTS:\n[host_name] \"Rusty\"\n", rng)
	if err != nil {
		t.Fatalf("second AdvanceState failed: %v", err)
	}
	if state.HostName != "Sparky" {
		t.Errorf("HostName overwritten to %q, want Sparky kept", state.HostName)
	}
}

func TestAdvanceStateMomentFIFO(t *testing.T) {
	store := newMemoryStore()
	engine := NewEngine(store)
	rng := rand.New(rand.NewSource(23))

	state := NewState("en")
	for i := 0; i < 4; i++ {
		text := "MEMORABLE_MOMENTS:\n" +
			"[joke] \"joke\"\n[personal] \"personal\"\n[slip_up] \"slip\"\n"
		var err error
		state, err = engine.AdvanceState(state, text, rng)
		if err != nil {
			t.Fatalf("AdvanceState %d failed: %v", i, err)
		}
	}

	if len(state.Moments) != MaxMoments {
		t.Fatalf("len(Moments) = %d, want %d", len(state.Moments), MaxMoments)
	}
	// The oldest moments are dropped first, so the newest episode must
	// be present at the tail.
	last := state.Moments[len(state.Moments)-1]
	if last.Episode != state.EpisodeCount {
		t.Errorf("tail moment episode = %d, want %d", last.Episode, state.EpisodeCount)
	}
}

func TestAdvanceStatePersists(t *testing.T) {
	store := newMemoryStore()
	engine := NewEngine(store)
	rng := rand.New(rand.NewSource(5))

	state := NewState("en")
	state, err := engine.AdvanceState(state, "no trailer here", rng)
	if err != nil {
		t.Fatalf("AdvanceState failed: %v", err)
	}

	reloaded, err := engine.Load("en")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if reloaded.EpisodeCount != state.EpisodeCount {
		t.Errorf("reloaded episode = %d, want %d", reloaded.EpisodeCount, state.EpisodeCount)
	}
	if reloaded.Phase != state.Phase {
		t.Errorf("reloaded phase = %v, want %v", reloaded.Phase, state.Phase)
	}
}

func TestLoadReturnsFreshStateForNewLocale(t *testing.T) {
	engine := NewEngine(newMemoryStore())
	state, err := engine.Load("ja")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if state.Phase != Strangers || state.EpisodeCount != 0 || state.Locale != "ja" {
		t.Errorf("unexpected fresh state: %+v", state)
	}
	if !strings.EqualFold(string(state.Phase), "strangers") {
		t.Errorf("fresh phase = %v", state.Phase)
	}
}
