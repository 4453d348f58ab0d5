package permission

import (
	"fmt"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// BashCommand is one parsed simple command from a Bash tool input.
type BashCommand struct {
	Name       string   // command name, e.g. "git"
	Args       []string // remaining arguments
	Subcommand string   // first non-flag argument, e.g. "commit"
}

// ParseBashCommand parses a shell command string into its simple commands.
// Compound commands (pipes, &&, ;) yield one entry per command.
func ParseBashCommand(command string) ([]BashCommand, error) {
	parser := syntax.NewParser(
		syntax.Variant(syntax.LangBash),
		syntax.KeepComments(false),
	)

	file, err := parser.Parse(strings.NewReader(command), "")
	if err != nil {
		return nil, fmt.Errorf("failed to parse command: %w", err)
	}

	var commands []BashCommand
	syntax.Walk(file, func(node syntax.Node) bool {
		if call, ok := node.(*syntax.CallExpr); ok {
			if cmd := extractCommand(call); cmd != nil {
				commands = append(commands, *cmd)
			}
		}
		return true
	})

	return commands, nil
}

func extractCommand(call *syntax.CallExpr) *BashCommand {
	if len(call.Args) == 0 {
		return nil
	}

	cmd := &BashCommand{}
	cmd.Name = wordToString(call.Args[0])
	if cmd.Name == "" {
		return nil
	}

	for _, arg := range call.Args[1:] {
		argStr := wordToString(arg)
		cmd.Args = append(cmd.Args, argStr)
		if cmd.Subcommand == "" && !strings.HasPrefix(argStr, "-") {
			cmd.Subcommand = argStr
		}
	}

	return cmd
}

// wordToString flattens a syntax.Word. Expansions become placeholders so a
// dynamic command never accidentally matches a literal pattern.
func wordToString(word *syntax.Word) string {
	var sb strings.Builder
	for _, part := range word.Parts {
		switch p := part.(type) {
		case *syntax.Lit:
			sb.WriteString(p.Value)
		case *syntax.SglQuoted:
			sb.WriteString(p.Value)
		case *syntax.DblQuoted:
			for _, qp := range p.Parts {
				if lit, ok := qp.(*syntax.Lit); ok {
					sb.WriteString(lit.Value)
				}
			}
		case *syntax.ParamExp:
			sb.WriteString("$" + p.Param.Value)
		case *syntax.CmdSubst:
			sb.WriteString("$()")
		}
	}
	return sb.String()
}

// MatchBashPattern checks one parsed command against a space-separated
// pattern: "git commit *", "git *", "git", or "*".
func MatchBashPattern(pattern string, cmd BashCommand) bool {
	parts := strings.Fields(pattern)
	if len(parts) == 0 {
		return false
	}

	if parts[0] == "*" && len(parts) == 1 {
		return true
	}
	if parts[0] != "*" && parts[0] != cmd.Name {
		return false
	}
	if len(parts) == 1 {
		return len(cmd.Args) == 0
	}

	if parts[len(parts)-1] == "*" {
		for i := 1; i < len(parts)-1; i++ {
			argIdx := i - 1
			if argIdx >= len(cmd.Args) {
				return false
			}
			if parts[i] != "*" && parts[i] != cmd.Args[argIdx] {
				return false
			}
		}
		return true
	}

	if len(parts)-1 != len(cmd.Args) {
		return false
	}
	for i := 1; i < len(parts); i++ {
		if parts[i] != cmd.Args[i-1] {
			return false
		}
	}
	return true
}

// commandText extracts the shell command string from a Bash tool input.
func commandText(input map[string]any) string {
	if input == nil {
		return ""
	}
	if v, ok := input["command"].(string); ok {
		return v
	}
	return ""
}

// matchBashRule checks a Bash-tool request against the inner pattern of a
// Bash(...) rule. Every simple command in the input must match; an
// unparseable command never matches.
func matchBashRule(inner string, input map[string]any) bool {
	command := commandText(input)
	if command == "" {
		return false
	}
	cmds, err := ParseBashCommand(command)
	if err != nil || len(cmds) == 0 {
		return false
	}
	for _, cmd := range cmds {
		if !MatchBashPattern(inner, cmd) {
			return false
		}
	}
	return true
}
