/*
 * Copyright 2025 Ted Dunning
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package shell implements the line-oriented command surface of spec §6: a
// byte-at-a-time line editor (CR/LF terminates, backspace/DEL erases one
// character) feeding a fixed command table.
package shell

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/shlex"
)

// Command is one shell command: run receives the tokenized arguments
// (command name excluded) and returns the text to print.
type Command struct {
	Name string
	Help string
	Run  func(args []string) string
}

// Shell is the line editor plus command table. It implements
// krnruntime.Shell (Feed(b byte) (string, bool)) without importing
// krnruntime, keeping the dependency direction one way. Commands reach
// kernel state through their own closures (see CommandsConfig in
// commands.go); the shell itself is just the editor and dispatch table.
type Shell struct {
	buf   []byte
	cmds  map[string]Command
	order []string
}

// New returns a Shell with no commands registered; callers add the
// concrete command set with Register (see commands.go for the standard
// table).
func New() *Shell {
	return &Shell{cmds: map[string]Command{}}
}

// Register adds one command to the table, in the order shown by `help`.
func (s *Shell) Register(c Command) {
	if _, exists := s.cmds[c.Name]; !exists {
		s.order = append(s.order, c.Name)
	}
	s.cmds[c.Name] = c
}

// Feed consumes one input byte. CR or LF completes the buffered line and
// runs it (spec §6 "Serial line ... CR or LF terminates a command");
// backspace (0x08) or DEL (0x7f) erases the last buffered character.
func (s *Shell) Feed(b byte) (output string, ranCommand bool) {
	switch b {
	case '\r', '\n':
		line := strings.TrimSpace(string(s.buf))
		s.buf = s.buf[:0]
		if line == "" {
			return "", false
		}
		return s.Run(line) + "\n", true
	case 0x08, 0x7f:
		if len(s.buf) > 0 {
			s.buf = s.buf[:len(s.buf)-1]
		}
		return "", false
	default:
		s.buf = append(s.buf, b)
		return "", false
	}
}

// Run tokenizes and dispatches one already-complete line, without going
// through the byte-at-a-time editor. Used directly by tests and by any
// future non-serial command source.
func (s *Shell) Run(line string) string {
	args, err := shlex.Split(line)
	if err != nil || len(args) == 0 {
		return fmt.Sprintf("unknown command: %s", line)
	}
	cmd, ok := s.cmds[args[0]]
	if !ok {
		return fmt.Sprintf("unknown command: %s", args[0])
	}
	return cmd.Run(args[1:])
}

// Help lists every registered command's one-line help, in registration
// order, for the `help` command.
func (s *Shell) Help() string {
	var b strings.Builder
	for _, name := range s.order {
		fmt.Fprintf(&b, "%-10s %s\n", name, s.cmds[name].Help)
	}
	return strings.TrimRight(b.String(), "\n")
}

// parseUintArg parses a shell argument as an unsigned integer, accepting a
// 0x-prefixed hex literal or plain decimal (used by peek/poke).
func parseUintArg(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return strconv.ParseUint(s[2:], 16, 64)
	}
	return strconv.ParseUint(s, 10, 64)
}
