package lint

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Instruction is one Dockerfile instruction with continuation lines joined.
type Instruction struct {
	// Command is the upper-cased instruction keyword (FROM, RUN, USER, ...).
	Command string
	// Value is the remainder of the instruction.
	Value string
	// Args are the whitespace-separated fields of Value.
	Args []string
	// Line is the 1-based line the instruction starts on.
	Line int
}

// Stage is one build stage, starting at a FROM instruction.
type Stage struct {
	Index        int
	Name         string
	Base         string
	Platform     string
	From         *Instruction
	Instructions []*Instruction
}

// Dockerfile is a parsed Dockerfile.
type Dockerfile struct {
	Path string

	// GlobalArgs are ARG instructions declared before the first FROM.
	GlobalArgs []*Instruction

	Stages []*Stage
}

// FinalStage returns the last stage, which produces the image, or nil.
func (d *Dockerfile) FinalStage() *Stage {
	if len(d.Stages) == 0 {
		return nil
	}
	return d.Stages[len(d.Stages)-1]
}

// Location returns the source location of an instruction in this file.
func (d *Dockerfile) Location(in *Instruction) *SourceLocation {
	if in == nil {
		return &SourceLocation{File: d.Path}
	}
	return &SourceLocation{File: d.Path, StartLine: in.Line, StartColumn: 1}
}

// ParseDockerfile reads a Dockerfile. Only the structure needed by policy
// rules is recovered: instructions, stages and their base images.
func ParseDockerfile(r io.Reader, path string) (*Dockerfile, error) {
	df := &Dockerfile{Path: path}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		pending   strings.Builder
		startLine int
		lineNo    int
	)

	flush := func() error {
		text := strings.TrimSpace(pending.String())
		pending.Reset()
		if text == "" {
			return nil
		}
		return df.add(text, startLine)
	}

	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "#") {
			continue
		}
		if pending.Len() == 0 {
			if trimmed == "" {
				continue
			}
			startLine = lineNo
		}

		if strings.HasSuffix(trimmed, "\\") {
			pending.WriteString(strings.TrimSuffix(trimmed, "\\"))
			pending.WriteByte(' ')
			continue
		}
		pending.WriteString(trimmed)
		if err := flush(); err != nil {
			return nil, err
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := flush(); err != nil {
		return nil, err
	}

	return df, nil
}

func (d *Dockerfile) add(text string, line int) error {
	keyword, value, _ := strings.Cut(text, " ")
	in := &Instruction{
		Command: strings.ToUpper(keyword),
		Value:   strings.TrimSpace(value),
		Line:    line,
	}
	in.Args = strings.Fields(in.Value)

	if in.Command == "FROM" {
		stage, err := newStage(in, len(d.Stages))
		if err != nil {
			return fmt.Errorf("%s:%d: %w", d.Path, line, err)
		}
		d.Stages = append(d.Stages, stage)
		return nil
	}

	if len(d.Stages) == 0 {
		if in.Command == "ARG" {
			d.GlobalArgs = append(d.GlobalArgs, in)
			return nil
		}
		return fmt.Errorf("%s:%d: %s before the first FROM", d.Path, line, in.Command)
	}

	stage := d.Stages[len(d.Stages)-1]
	stage.Instructions = append(stage.Instructions, in)
	return nil
}

func newStage(from *Instruction, index int) (*Stage, error) {
	stage := &Stage{Index: index, From: from}

	args := from.Args
	for len(args) > 0 && strings.HasPrefix(args[0], "--") {
		if p, ok := strings.CutPrefix(args[0], "--platform="); ok {
			stage.Platform = p
		}
		args = args[1:]
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("FROM without a base image")
	}
	stage.Base = args[0]
	if len(args) >= 3 && strings.EqualFold(args[1], "AS") {
		stage.Name = args[2]
	}
	return stage, nil
}
