package template

import (
	"os"
	"regexp"
	"strings"

	"github.com/hashicorp/go-envparse"
)

// ResolveEnv computes the environment a spawn should use: OS environment
// (if spec.OSEnv) overlaid by spec.Env, per spec.md §4.2. Resolution happens
// at spawn time, not at template load time, so callers must invoke this
// immediately before exec.
func ResolveEnv(spec Spec) map[string]string {
	resolved := make(map[string]string)
	if spec.OSEnv {
		for _, kv := range os.Environ() {
			if k, v, ok := strings.Cut(kv, "="); ok {
				resolved[k] = v
			}
		}
	}
	for k, v := range spec.Env {
		resolved[k] = v
	}
	return resolved
}

// ParseEnvFile parses a KEY=VALUE-per-line env overlay (as accepted by the
// command/agent entrypoint for -env-file) using go-envparse, the same
// format spec.md implicitly assumes for "env" overlays sourced from files.
func ParseEnvFile(contents string) (map[string]string, error) {
	return envparse.Parse(strings.NewReader(contents))
}

var varRE = regexp.MustCompile(`\$\{?([A-Za-z_][A-Za-z0-9_]*)\}?`)

// Substitute expands $VAR and ${VAR} references in s against env. Unknown
// variables are left as empty string, matching shell behavior for unset
// variables.
func Substitute(s string, env map[string]string) string {
	return varRE.ReplaceAllStringFunc(s, func(m string) string {
		name := varRE.FindStringSubmatch(m)[1]
		return env[name]
	})
}

// ResolvedCommand applies Substitute to spec.Cmd and every element of
// spec.Args against env, returning the argv ready for exec.
func ResolvedCommand(spec Spec, env map[string]string) (cmd string, args []string) {
	cmd = Substitute(spec.Cmd, env)
	args = make([]string, len(spec.Args))
	for i, a := range spec.Args {
		args[i] = Substitute(a, env)
	}
	return cmd, args
}
