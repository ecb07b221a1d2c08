package image

import (
	"fmt"
	"strconv"
	"strings"
)

// StepKind identifies a Dockerfile instruction in a build plan. The numeric
// value is the step's rank.
type StepKind int

const (
	StepBase StepKind = iota
	StepWorkdir
	StepCopyManifest
	StepInstall
	StepCopySource
	StepCompile
	StepEnv
	StepMarkPackages
	StepExpose
	StepCommand
)

var stepNames = map[StepKind]string{
	StepBase:         "base",
	StepWorkdir:      "workdir",
	StepCopyManifest: "copy-manifest",
	StepInstall:      "install",
	StepCopySource:   "copy-source",
	StepCompile:      "compile",
	StepEnv:          "env",
	StepMarkPackages: "mark-packages",
	StepExpose:       "expose",
	StepCommand:      "command",
}

// String returns the step kind name.
func (k StepKind) String() string {
	if name, ok := stepNames[k]; ok {
		return name
	}
	return fmt.Sprintf("step(%d)", int(k))
}

// Rank returns the ordering rank of the step kind.
func (k StepKind) Rank() int {
	return int(k)
}

// Step is a single instruction of a build plan.
type Step struct {
	Kind StepKind
	Args []string

	// Exec renders a command step in exec form instead of through a shell.
	Exec bool
}

// Instruction renders the step as a Dockerfile line.
func (s Step) Instruction() string {
	switch s.Kind {
	case StepBase:
		return "FROM " + first(s.Args)
	case StepWorkdir:
		return "WORKDIR " + first(s.Args)
	case StepCopyManifest:
		if len(s.Args) == 1 {
			return "COPY " + s.Args[0] + " ."
		}
		return "COPY " + strings.Join(s.Args, " ") + " ./"
	case StepInstall, StepCompile:
		return "RUN " + first(s.Args)
	case StepCopySource:
		return "COPY " + first(s.Args) + " ."
	case StepEnv:
		return "ENV " + strings.Join(s.Args, " ")
	case StepMarkPackages:
		return "RUN touch " + strings.Join(s.Args, " ")
	case StepExpose:
		return "EXPOSE " + first(s.Args)
	case StepCommand:
		if s.Exec {
			quoted := make([]string, len(s.Args))
			for i, arg := range s.Args {
				quoted[i] = strconv.Quote(arg)
			}
			return "CMD [" + strings.Join(quoted, ", ") + "]"
		}
		return "CMD exec " + strings.Join(s.Args, " ")
	default:
		return "# " + s.Kind.String()
	}
}

func first(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
