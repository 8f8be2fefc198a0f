// Package template implements the ProcessTemplate data model of spec.md §3
// and §4.2: declarative job specs, validation, session-qualified naming,
// and $VAR substitution resolved at spawn time.
package template

import (
	"regexp"
	"time"
)

// FlappingPolicy is the per-template crash-rate policy (spec.md §4.3). A
// zero value disables flapping detection.
type FlappingPolicy struct {
	Attempts int           // failures within Window that trip the detector
	Window   time.Duration // sliding window length
	RetryIn  time.Duration // deferred retry delay once tripped
	MaxRetry int           // deferred retries allowed before "stopped_flapping"
}

// Enabled reports whether this policy does anything.
func (p FlappingPolicy) Enabled() bool { return p.Attempts > 0 }

// Spec is the declarative, wire-decodable job specification (spec.md §6
// "Spec JSON schema"). Fields mirror the HTTP contract field-for-field so
// an external adapter can mapstructure.Decode a parsed JSON body directly
// into a Spec.
type Spec struct {
	Name string `mapstructure:"name"`

	Cmd  string   `mapstructure:"cmd"`
	Args []string `mapstructure:"args"`

	Env map[string]string `mapstructure:"env"`
	UID string            `mapstructure:"uid"`
	GID string            `mapstructure:"gid"`
	Cwd string            `mapstructure:"cwd"`

	Detach bool `mapstructure:"detach"`
	Shell  bool `mapstructure:"shell"`
	OSEnv  bool `mapstructure:"os_env"`

	NumProcesses int `mapstructure:"numprocesses"`
	Priority     int `mapstructure:"priority"`

	Flapping FlappingPolicy `mapstructure:"-"`

	RedirectOutput []string `mapstructure:"redirect_output"`
	RedirectInput  bool     `mapstructure:"redirect_input"`

	GracefulTimeout time.Duration `mapstructure:"graceful_timeout"`

	CustomStreams  []string `mapstructure:"custom_streams"`
	CustomChannels []string `mapstructure:"custom_channels"`

	// Schedule is a cron expression for the periodic-commit supplement
	// (SPEC_FULL.md §2). Empty disables it. Not part of spec.md's wire
	// schema; adapters that don't know about it simply never set it.
	Schedule string `mapstructure:"schedule"`
}

var nameRE = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

const defaultGracefulTimeout = 30 * time.Second

// Validate checks spec.md §4.2's invariants and fills in defaults. It does
// not mutate spec; callers should assign the returned value.
func Validate(spec Spec) (Spec, error) {
	if !nameRE.MatchString(spec.Name) {
		return spec, invalidSpec("name", "must match [A-Za-z0-9_-]+, got %q", spec.Name)
	}
	if spec.NumProcesses < 0 {
		return spec, invalidSpec("numprocesses", "must be >= 0, got %d", spec.NumProcesses)
	}
	if len(spec.RedirectOutput) > 2 {
		return spec, invalidSpec("redirect_output", "at most 2 labels allowed, got %d", len(spec.RedirectOutput))
	}
	if spec.GracefulTimeout < 0 {
		return spec, invalidSpec("graceful_timeout", "must be >= 0, got %s", spec.GracefulTimeout)
	}
	if spec.GracefulTimeout == 0 {
		spec.GracefulTimeout = defaultGracefulTimeout
	}
	if spec.Flapping.Enabled() {
		if spec.Flapping.Window <= 0 {
			return spec, invalidSpec("flapping.window", "must be > 0 when flapping is enabled")
		}
		if spec.Flapping.MaxRetry < 0 {
			return spec, invalidSpec("flapping.max_retry", "must be >= 0")
		}
	}
	return spec, nil
}

// MergesStderr reports whether redirect_output repeats a label, which
// spec.md §4.2 defines as the signal to merge stderr into stdout.
func (s Spec) MergesStderr() bool {
	if len(s.RedirectOutput) != 2 {
		return false
	}
	return s.RedirectOutput[0] == s.RedirectOutput[1]
}

// StreamLabels returns the distinct output stream labels, collapsing a
// repeated label per MergesStderr.
func (s Spec) StreamLabels() []string {
	if s.MergesStderr() {
		return []string{s.RedirectOutput[0]}
	}
	out := make([]string, 0, len(s.RedirectOutput))
	seen := make(map[string]bool, len(s.RedirectOutput))
	for _, l := range s.RedirectOutput {
		if !seen[l] {
			seen[l] = true
			out = append(out, l)
		}
	}
	return out
}

// MaterialFields lists the Spec fields whose change forces a respawn of all
// instances under updateTemplate (spec.md §4.1). Kept as an explicit,
// documented list per the Open Question resolved in SPEC_FULL.md/DESIGN.md.
var MaterialFields = []string{"cmd", "args", "env", "uid", "gid", "cwd", "redirect_output", "redirect_input", "custom_streams", "custom_channels", "shell", "detach"}

// MaterialDiff reports whether any MaterialFields-listed aspect differs
// between old and next, meaning existing instances must be respawned.
func MaterialDiff(old, next Spec) bool {
	if old.Cmd != next.Cmd || old.Cwd != next.Cwd || old.UID != next.UID || old.GID != next.GID {
		return true
	}
	if old.Shell != next.Shell || old.Detach != next.Detach || old.RedirectInput != next.RedirectInput {
		return true
	}
	if !stringsEqual(old.Args, next.Args) {
		return true
	}
	if !stringsEqual(old.RedirectOutput, next.RedirectOutput) {
		return true
	}
	if !stringsEqual(old.CustomStreams, next.CustomStreams) {
		return true
	}
	if !stringsEqual(old.CustomChannels, next.CustomChannels) {
		return true
	}
	if !envEqual(old.Env, next.Env) {
		return true
	}
	return false
}

func stringsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func envEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}
