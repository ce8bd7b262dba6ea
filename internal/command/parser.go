// Package command parses explicit device-addressed commands of the form
// "@laptop,@phone git pull" or "@all df -h".
package command

import "strings"

// allKeywords collapse the target list to a wildcard over every online
// device. English and Korean forms are both reserved.
var allKeywords = map[string]struct{}{
	"all":      {},
	"everyone": {},
	"모두":       {},
	"전체":       {},
	"전부":       {},
}

// Parsed is the result of splitting an utterance into targets and command.
type Parsed struct {
	Targets []string
	Command string
	All     bool
}

// Parse splits an input into device-name mentions and the remaining command
// text. The input must start with an address marker ("@"); one or more
// space- or comma-separated mentions form the prefix. Returns ok=false when
// the input is not an addressed command or has no command text.
func Parse(input string) (Parsed, bool) {
	trimmed := strings.TrimSpace(input)
	if !strings.HasPrefix(trimmed, "@") {
		return Parsed{}, false
	}

	fields := strings.Fields(trimmed)
	var targets []string
	all := false

	i := 0
	for ; i < len(fields); i++ {
		if !strings.HasPrefix(fields[i], "@") {
			break
		}
		// A single field may carry several mentions: "@laptop,@phone".
		for _, part := range strings.Split(fields[i], ",") {
			name := strings.TrimPrefix(strings.TrimSpace(part), "@")
			if name == "" {
				continue
			}
			if _, ok := allKeywords[strings.ToLower(name)]; ok {
				all = true
				continue
			}
			targets = append(targets, name)
		}
	}

	cmd := strings.Join(fields[i:], " ")
	if cmd == "" {
		return Parsed{}, false
	}
	if all {
		targets = nil
	}
	if len(targets) == 0 && !all {
		return Parsed{}, false
	}

	return Parsed{Targets: targets, Command: cmd, All: all}, true
}
