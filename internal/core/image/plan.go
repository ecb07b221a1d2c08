package image

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Plan validation errors.
var (
	ErrEmptyPlan              = errors.New("build plan has no steps")
	ErrMissingBaseImage       = errors.New("build plan must start from a base image")
	ErrMissingWorkdir         = errors.New("build plan has no working directory")
	ErrMissingSource          = errors.New("build plan never copies the application source")
	ErrMissingCommand         = errors.New("build plan has no launch command")
	ErrDuplicateStep          = errors.New("build plan repeats a single-use step")
	ErrStepOrder              = errors.New("build plan steps are out of order")
	ErrInstallWithoutManifest = errors.New("build plan installs dependencies without copying a manifest")
	ErrCommandBinding         = errors.New("launch command must bind 0.0.0.0 on ${PORT}")
	ErrInvalidPort            = errors.New("advisory port is invalid")
)

// Plan is an ordered list of build steps produced from a profile.
type Plan struct {
	Profile   string
	Manifests []string
	Steps     []Step
}

// NewPlan turns a profile into a validated build plan.
func NewPlan(p Profile) (*Plan, error) {
	if strings.TrimSpace(p.BaseImage) == "" {
		return nil, ErrMissingBaseImage
	}
	if strings.TrimSpace(p.Workdir) == "" {
		return nil, ErrMissingWorkdir
	}
	if strings.TrimSpace(p.Command) == "" {
		return nil, ErrMissingCommand
	}
	if p.Port < 0 || p.Port > 65535 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPort, p.Port)
	}

	source := p.Source
	if source == "" {
		source = "."
	}

	steps := []Step{
		{Kind: StepBase, Args: []string{p.BaseImage}},
		{Kind: StepWorkdir, Args: []string{p.Workdir}},
	}
	if len(p.Manifests) > 0 {
		steps = append(steps, Step{Kind: StepCopyManifest, Args: append([]string(nil), p.Manifests...)})
	}
	for _, cmd := range p.Install {
		steps = append(steps, Step{Kind: StepInstall, Args: []string{cmd}})
	}
	steps = append(steps, Step{Kind: StepCopySource, Args: []string{source}})
	for _, cmd := range p.Compile {
		steps = append(steps, Step{Kind: StepCompile, Args: []string{cmd}})
	}
	if env := p.envPairs(); len(env) > 0 {
		steps = append(steps, Step{Kind: StepEnv, Args: env})
	}
	if len(p.Packages) > 0 {
		steps = append(steps, Step{Kind: StepMarkPackages, Args: append([]string(nil), p.Packages...)})
	}
	if p.Port > 0 {
		steps = append(steps, Step{Kind: StepExpose, Args: []string{strconv.Itoa(p.Port)}})
	}
	steps = append(steps, Step{Kind: StepCommand, Args: strings.Fields(p.Command), Exec: p.PortFromEnv})

	plan := &Plan{
		Profile:   p.Name,
		Manifests: append([]string(nil), p.Manifests...),
		Steps:     steps,
	}
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return plan, nil
}

// Validate checks step ordering and the single-use steps.
func (p *Plan) Validate() error {
	if len(p.Steps) == 0 {
		return ErrEmptyPlan
	}
	if p.Steps[0].Kind != StepBase || first(p.Steps[0].Args) == "" {
		return ErrMissingBaseImage
	}

	counts := make(map[StepKind]int)
	for i, step := range p.Steps {
		counts[step.Kind]++
		if i == 0 {
			continue
		}
		prev := p.Steps[i-1]
		if step.Kind.Rank() < prev.Kind.Rank() {
			return fmt.Errorf("%w: %s after %s at step %d", ErrStepOrder, step.Kind, prev.Kind, i+1)
		}
	}

	for _, kind := range []StepKind{StepBase, StepWorkdir, StepCommand} {
		if counts[kind] > 1 {
			return fmt.Errorf("%w: %s appears %d times", ErrDuplicateStep, kind, counts[kind])
		}
	}
	if counts[StepWorkdir] == 0 {
		return ErrMissingWorkdir
	}
	if counts[StepCopySource] == 0 {
		return ErrMissingSource
	}
	if counts[StepInstall] > 0 && counts[StepCopyManifest] == 0 {
		return ErrInstallWithoutManifest
	}
	cmd, ok := p.Command()
	if !ok {
		return ErrMissingCommand
	}
	return checkCommand(cmd)
}

// Dockerfile renders the plan.
func (p *Plan) Dockerfile() string {
	var b strings.Builder
	for _, step := range p.Steps {
		b.WriteString(step.Instruction())
		b.WriteByte('\n')
	}
	return b.String()
}

// Command returns the launch command step.
func (p *Plan) Command() (Step, bool) {
	for _, step := range p.Steps {
		if step.Kind == StepCommand {
			return step, true
		}
	}
	return Step{}, false
}

func checkCommand(step Step) error {
	line := strings.Join(step.Args, " ")
	if line == "" {
		return ErrMissingCommand
	}
	if strings.Contains(line, "127.0.0.1") || strings.Contains(line, "localhost") {
		return fmt.Errorf("%w: %q binds loopback", ErrCommandBinding, line)
	}
	// Exec form has no shell to expand ${PORT}; the program reads it.
	if step.Exec {
		return nil
	}
	if !strings.Contains(line, "0.0.0.0") {
		return fmt.Errorf("%w: %q does not bind all interfaces", ErrCommandBinding, line)
	}
	if !strings.Contains(line, "${PORT}") && !strings.Contains(line, "$PORT") {
		return fmt.Errorf("%w: %q does not read the port variable", ErrCommandBinding, line)
	}
	return nil
}
