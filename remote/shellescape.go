package remote

import (
	"sort"
	"strings"
)

// quote wraps s in single quotes, escaping any embedded single quote as
// '\''  (close quote, escaped literal quote, reopen quote) -- the standard
// POSIX-shell-safe quoting transform. The result is safe to splice into a
// shell command line regardless of s's contents.
func quote(s string) string {
	if s == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// quoteArgs quotes every element of args and joins them with spaces.
func quoteArgs(args []string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = quote(a)
	}
	return strings.Join(quoted, " ")
}

// buildCommand assembles the full shell invocation for a job: an optional
// "cd <dir> &&" prefix, an optional "env KEY=VALUE ... --" prefix for
// variables the SSH session could not set directly (see Executor.setEnv),
// and the shell-escaped command and arguments.
func buildCommand(dir, command string, args []string, fallbackEnv map[string]string) string {
	var b strings.Builder
	if dir != "" {
		b.WriteString("cd ")
		b.WriteString(quote(dir))
		b.WriteString(" && ")
	}
	if len(fallbackEnv) > 0 {
		keys := make([]string, 0, len(fallbackEnv))
		for k := range fallbackEnv {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("env")
		for _, k := range keys {
			b.WriteByte(' ')
			b.WriteString(k)
			b.WriteByte('=')
			b.WriteString(quote(fallbackEnv[k]))
		}
		b.WriteString(" -- ")
	}
	b.WriteString(quote(command))
	if len(args) > 0 {
		b.WriteByte(' ')
		b.WriteString(quoteArgs(args))
	}
	return b.String()
}
