package sandboxtest

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	shellquote "github.com/kballard/go-shellquote"

	"github.com/isdmx/yact/sandbox"
)

// Shell returns an ExecFunc that understands the sh -c scripts built by
// sandbox.ShellCommand for a handful of commands (cd, pwd, echo, touch, cat,
// exit) plus "> file" redirection. Paths under a bind target are mapped onto
// the bind source on the host, so files written there really appear in the
// host directory.
func Shell() ExecFunc {
	return func(c *Container, cmd []string) (sandbox.ExecResult, error) {
		if len(cmd) != 3 || cmd[0] != "sh" || cmd[1] != "-c" {
			return sandbox.ExecResult{}, fmt.Errorf("unexpected command %q", cmd)
		}

		sh := &shell{container: c, cwd: "/", out: &strings.Builder{}}
		for _, stmt := range strings.Split(cmd[2], ";") {
			words, err := shellquote.Split(strings.TrimSpace(stmt))
			if err != nil {
				return sandbox.ExecResult{}, err
			}
			if len(words) == 0 {
				continue
			}
			if done := sh.runRedirected(words); done {
				break
			}
		}

		return sandbox.ExecResult{Output: sh.out.String(), ExitCode: sh.status}, nil
	}
}

type shell struct {
	container *Container
	cwd       string
	out       *strings.Builder
	status    int
}

// runRedirected handles a trailing "> file" before running the statement
func (s *shell) runRedirected(words []string) bool {
	i := len(words) - 2
	if i < 1 || words[i] != ">" {
		return s.run(words)
	}

	target := words[i+1]
	saved := s.out
	s.out = &strings.Builder{}
	done := s.run(words[:i])
	output := s.out.String()
	s.out = saved

	host, ok := s.hostPath(target)
	if !ok {
		return done
	}
	if err := os.WriteFile(host, []byte(output), 0644); err != nil {
		fmt.Fprintf(s.out, "sh: can't create %s: %v\n", target, err)
		s.status = 1
	}
	return done
}

// run executes one statement and reports whether the script should stop
func (s *shell) run(words []string) bool {
	s.status = 0

	switch words[0] {
	case "cd":
		if len(words) > 1 {
			s.cwd = s.abs(words[1])
		}
	case "pwd":
		s.out.WriteString(s.cwd + "\n")
	case "echo":
		s.out.WriteString(strings.Join(words[1:], " ") + "\n")
	case "touch":
		for _, p := range words[1:] {
			s.touch(p)
		}
	case "cat":
		for _, p := range words[1:] {
			s.cat(p)
		}
	case "exit":
		if len(words) > 1 {
			s.status, _ = strconv.Atoi(words[1])
		}
		return true
	default:
		fmt.Fprintf(s.out, "sh: %s: not found\n", words[0])
		s.status = 127
	}

	return false
}

func (s *shell) abs(p string) string {
	if path.IsAbs(p) {
		return path.Clean(p)
	}
	return path.Join(s.cwd, p)
}

// hostPath maps an in-sandbox path to the host through the bind mounts
func (s *shell) hostPath(p string) (string, bool) {
	p = s.abs(p)
	for _, b := range s.container.Options.Binds {
		if p == b.Target {
			return b.Source, true
		}
		if rel, ok := strings.CutPrefix(p, b.Target+"/"); ok {
			return filepath.Join(b.Source, filepath.FromSlash(rel)), true
		}
	}
	return "", false
}

func (s *shell) touch(p string) {
	host, ok := s.hostPath(p)
	if !ok {
		// Outside the mounts the container filesystem is throwaway.
		return
	}
	f, err := os.OpenFile(host, os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		fmt.Fprintf(s.out, "touch: %s: %v\n", p, err)
		s.status = 1
		return
	}
	_ = f.Close()
}

func (s *shell) cat(p string) {
	host, ok := s.hostPath(p)
	if !ok {
		fmt.Fprintf(s.out, "cat: can't open '%s': No such file or directory\n", p)
		s.status = 1
		return
	}
	data, err := os.ReadFile(host)
	if err != nil {
		fmt.Fprintf(s.out, "cat: can't open '%s': No such file or directory\n", p)
		s.status = 1
		return
	}
	s.out.Write(data)
}
