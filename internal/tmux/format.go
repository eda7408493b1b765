package tmux

import "strings"

// fieldSep sits between -F fields. Session names and paths never contain it.
const fieldSep = "\x1f"

func format(fields ...string) string {
	return strings.Join(fields, fieldSep)
}

// fields splits one line of -F output into at most n parts. Some tmux builds
// print the separator back as a tab or a literal `\t`.
func fields(line string, n int) []string {
	if n <= 0 {
		return nil
	}
	for _, sep := range []string{fieldSep, "\t", `\t`} {
		if strings.Contains(line, sep) {
			return strings.SplitN(line, sep, n)
		}
	}
	return []string{line}
}

// ExactSession is a -t target that matches session by full name, never by
// prefix or pattern.
func ExactSession(session string) string {
	return "=" + session
}
