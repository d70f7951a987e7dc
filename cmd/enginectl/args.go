package main

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

// scriptArg is one parsed --args pair, order preserved.
type scriptArg struct {
	key   string
	value string
}

// parseScriptArgs splits the --args string into ordered key=value
// pairs. Entries without '=' are skipped with a warning rather than
// failing the run.
func parseScriptArgs(raw string) []scriptArg {
	var out []scriptArg
	for _, pair := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			if strings.TrimSpace(pair) != "" {
				log.Warn().Str("arg", pair).Msg("ignoring script argument without '='")
			}
			continue
		}
		out = append(out, scriptArg{key: strings.TrimSpace(key), value: value})
	}
	return out
}

// buildArgv converts parsed pairs into the argv the script's argparse
// will see. Underscores become hyphens; key=true becomes a bare flag,
// key=false is dropped; a double-slash asset path loses one slash to
// undo MSYS-style escaping.
func buildArgv(scriptPath string, args []scriptArg) []string {
	argv := []string{scriptPath}
	for _, a := range args {
		name := "--" + strings.ReplaceAll(a.key, "_", "-")
		switch strings.ToLower(a.value) {
		case "true":
			argv = append(argv, name)
		case "false":
		default:
			value := a.value
			if strings.HasPrefix(value, "//") && !strings.HasPrefix(value, "///") {
				value = value[1:]
			}
			argv = append(argv, name, value)
		}
	}
	return argv
}

// pyStringLiteral quotes s as a Python single-quoted string literal.
func pyStringLiteral(s string) string {
	var b strings.Builder
	b.WriteByte('\'')
	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '\'':
			b.WriteString(`\'`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('\'')
	return b.String()
}

// injectArgv prepends a sys.argv override to the script source so
// argparse-based editor scripts receive the requested flags.
func injectArgv(source string, argv []string) string {
	quoted := make([]string, len(argv))
	for i, a := range argv {
		quoted[i] = pyStringLiteral(a)
	}
	return fmt.Sprintf("import sys\nsys.argv = [%s]\n%s", strings.Join(quoted, ", "), source)
}
