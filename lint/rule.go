package lint

import (
	"fmt"
	"regexp"
	"strings"
)

// Rule is a Dockerfile policy check.
type Rule interface {
	// Name is a kebab-case identifier such as "non-root-user".
	Name() string
	Description() string
	Check(ctx *Context) []Issue
}

// rule adapts a check function to Rule. Every constructor below builds one.
type rule struct {
	name        string
	description string
	check       func(ctx *Context) []Issue
}

func (r *rule) Name() string               { return r.name }
func (r *rule) Description() string        { return r.description }
func (r *rule) Check(ctx *Context) []Issue { return r.check(ctx) }

// SimpleRule runs check once against the file-level context.
//
//nolint:ireturn
func SimpleRule(name, description string, check func(ctx *Context) []Issue) Rule {
	return &rule{name: name, description: description, check: check}
}

// InstructionRule runs check for every instruction with the given keyword,
// in every stage.
//
//nolint:ireturn
func InstructionRule(name, description, command string, check func(ctx *Context, in *Instruction) []Issue) Rule {
	command = strings.ToUpper(command)
	return SimpleRule(name, description, func(ctx *Context) []Issue {
		var issues []Issue
		_ = ctx.WalkAll(func(c *Context) error {
			if c.Instruction != nil && c.Instruction.Command == command {
				issues = append(issues, check(c, c.Instruction)...)
			}
			return nil
		})
		return issues
	})
}

// PatternRule reports every instruction whose arguments match pattern.
// It panics if pattern does not compile.
//
//nolint:ireturn
func PatternRule(name, description, pattern string, severity Severity) Rule {
	re, err := regexp.Compile(pattern)
	if err != nil {
		panic(fmt.Sprintf("rule %s: invalid pattern: %v", name, err))
	}
	return SimpleRule(name, description, func(ctx *Context) []Issue {
		var issues []Issue
		_ = ctx.WalkAll(func(c *Context) error {
			if in := c.Instruction; in != nil && re.MatchString(in.Value) {
				issue := NewIssue(name, severity, description, c.Location())
				issues = append(issues, issue.WithContext("instruction", in.Command))
			}
			return nil
		})
		return issues
	})
}

// RequireRule reports a single error at file level when requirement is false.
//
//nolint:ireturn
func RequireRule(name, description string, requirement func(ctx *Context) bool) Rule {
	return SimpleRule(name, description, func(ctx *Context) []Issue {
		if requirement(ctx) {
			return nil
		}
		return []Issue{NewIssue(name, SeverityError, description, ctx.Location())}
	})
}

// HasInstruction reports whether the scope of ctx contains an instruction
// with the given keyword.
func HasInstruction(ctx *Context, command string) bool {
	command = strings.ToUpper(command)
	if ctx.Instruction != nil {
		return ctx.Instruction.Command == command
	}
	found := false
	_ = ctx.WalkAll(func(c *Context) error {
		if c.Instruction != nil && c.Instruction.Command == command {
			found = true
		}
		return nil
	})
	return found
}
