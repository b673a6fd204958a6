package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/coldpalm/palmsync/pkg/cmdutil"
)

func expandHome(path string) string { return cmdutil.ExpandHome(path) }

// confirm prompts y/N on a terminal; on a non-interactive stdin (piped
// input, a cron job) it assumes "yes" rather than hanging forever,
// mirroring the teacher's ResolvePassword falling back gracefully when
// there's no one there to answer.
func confirm(action string) bool {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return true
	}
	fmt.Printf("About to %s. Continue? [y/N] ", action)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	line = strings.ToLower(strings.TrimSpace(line))
	return line == "y" || line == "yes"
}
