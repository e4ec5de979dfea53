package service

import (
	"errors"
	"fmt"
	"path"
	"regexp"
	"strconv"

	"github.com/dominikbraun/graph"
	"github.com/rs/zerolog"

	"github.com/timzifer/paramflow/runtime/interaction"
	"github.com/timzifer/paramflow/runtime/storage"
)

const (
	// DefaultOptionalThreshold marks steps at most 20% mandatory as optional.
	DefaultOptionalThreshold = 20
	// CompletelyOptional only treats 0% mandatory steps as optional.
	CompletelyOptional = 0
)

// DefaultAlwaysOptional lists step file patterns that are never mandatory.
var DefaultAlwaysOptional = []string{"00_default.param", "*complete.param"}

var (
	mandatoryPattern = regexp.MustCompile(`(\d+)%`)
	stepNumber       = regexp.MustCompile(`^(\d+)`)
)

// Navigator decides where the operator goes next in the step sequence.
type Navigator struct {
	store          storage.Storage
	ui             interaction.Interaction
	alwaysOptional []string
	logger         zerolog.Logger
}

// NewNavigator creates a navigator. A nil alwaysOptional uses DefaultAlwaysOptional.
func NewNavigator(store storage.Storage, ui interaction.Interaction, alwaysOptional []string, logger zerolog.Logger) *Navigator {
	if alwaysOptional == nil {
		alwaysOptional = DefaultAlwaysOptional
	}
	return &Navigator{
		store:          store,
		ui:             ui,
		alwaysOptional: alwaysOptional,
		logger:         logger.With().Str("component", "navigator").Logger(),
	}
}

// MandatoryLevel returns the first percentage in the step's mandatory text.
func (n *Navigator) MandatoryLevel(step string) (int, bool) {
	match := mandatoryPattern.FindStringSubmatch(n.store.MandatoryPercentageTextFor(step))
	if match == nil {
		return 0, false
	}
	level, err := strconv.Atoi(match[1])
	if err != nil {
		return 0, false
	}
	return level, true
}

// IsOptional reports whether the step is at most threshold percent mandatory.
// Steps without a parseable level are mandatory.
func (n *Navigator) IsOptional(step string, threshold int) bool {
	if n.alwaysOptionalStep(step) {
		return true
	}
	level, ok := n.MandatoryLevel(step)
	if !ok {
		return false
	}
	return level <= threshold
}

func (n *Navigator) alwaysOptionalStep(step string) bool {
	if meta, ok := n.store.Step(step); ok && meta.AlwaysOptional {
		return true
	}
	for _, pattern := range n.alwaysOptional {
		if matched, err := path.Match(pattern, step); err == nil && matched {
			return true
		}
	}
	return false
}

// ResolveJump offers the step's jump targets in declaration order and
// returns the first accepted destination, or step itself. In simple mode the
// first target is taken without asking.
func (n *Navigator) ResolveJump(step string) string {
	for _, target := range n.store.JumpTargetsFor(step) {
		if n.ui == nil {
			break
		}
		if n.ui.Simple() {
			n.logger.Info().Str("step", step).Str("destination", target.Destination).Msg("jumping in simple mode")
			return target.Destination
		}
		msg := target.Message
		if msg == "" {
			msg = fmt.Sprintf("Skip to %s?", target.Destination)
		}
		if n.ui.AskConfirmation(fmt.Sprintf("Skip to %s", target.Destination), msg) {
			n.logger.Info().Str("step", step).Str("destination", target.Destination).Msg("jump accepted")
			return target.Destination
		}
	}
	return step
}

// NextNonOptional returns the first step after step that is not completely
// optional.
func (n *Navigator) NextNonOptional(step string) (string, bool) {
	files := n.store.StepFiles()
	index := -1
	for i, file := range files {
		if file == step {
			index = i
			break
		}
	}
	if index < 0 {
		return "", false
	}
	for _, file := range files[index+1:] {
		if !n.IsOptional(file, CompletelyOptional) {
			return file, true
		}
	}
	return "", false
}

// PhaseFor returns the phase with the greatest start not above the step's
// number.
func (n *Navigator) PhaseFor(step string) (storage.Phase, bool) {
	number, ok := StepNumber(step)
	if !ok {
		return storage.Phase{}, false
	}
	var (
		found storage.Phase
		hit   bool
	)
	for _, phase := range n.store.Phases() {
		if phase.Start <= number && (!hit || phase.Start >= found.Start) {
			found = phase
			hit = true
		}
	}
	return found, hit
}

// StepNumber parses the numeric prefix of a step file name.
func StepNumber(step string) (int, bool) {
	match := stepNumber.FindStringSubmatch(step)
	if match == nil {
		return 0, false
	}
	number, err := strconv.Atoi(match[1])
	if err != nil {
		return 0, false
	}
	return number, true
}

// Graph builds the directed step graph with sequential and jump edges.
func (n *Navigator) Graph() (graph.Graph[string, string], error) {
	g := graph.New(graph.StringHash, graph.Directed())
	files := n.store.StepFiles()
	for _, file := range files {
		if err := g.AddVertex(file); err != nil {
			return nil, fmt.Errorf("add step %s: %w", file, err)
		}
	}
	for i := 1; i < len(files); i++ {
		if err := g.AddEdge(files[i-1], files[i]); err != nil {
			return nil, fmt.Errorf("link %s to %s: %w", files[i-1], files[i], err)
		}
	}
	for _, file := range files {
		for _, target := range n.store.JumpTargetsFor(file) {
			if _, err := g.Vertex(target.Destination); err != nil {
				return nil, fmt.Errorf("step %s: unknown jump destination %s", file, target.Destination)
			}
			if err := g.AddEdge(file, target.Destination); err != nil && !errors.Is(err, graph.ErrEdgeAlreadyExists) {
				return nil, fmt.Errorf("jump %s to %s: %w", file, target.Destination, err)
			}
		}
	}
	return g, nil
}

// Validate checks that every jump destination names a known step.
func (n *Navigator) Validate() error {
	_, err := n.Graph()
	return err
}

// ShortestPath returns the shortest route from the first to the last step.
func (n *Navigator) ShortestPath() ([]string, error) {
	files := n.store.StepFiles()
	if len(files) == 0 {
		return nil, nil
	}
	g, err := n.Graph()
	if err != nil {
		return nil, err
	}
	if len(files) == 1 {
		return files, nil
	}
	return graph.ShortestPath(g, files[0], files[len(files)-1])
}
