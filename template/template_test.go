package template

import (
	"testing"
	"time"

	"github.com/shoenig/test/must"
)

func TestValidate_Defaults(t *testing.T) {
	spec, err := Validate(Spec{Name: "web", Cmd: "/bin/true"})
	must.NoError(t, err)
	must.Eq(t, defaultGracefulTimeout, spec.GracefulTimeout)
}

func TestValidate_RejectsBadName(t *testing.T) {
	_, err := Validate(Spec{Name: "bad name!", Cmd: "/bin/true"})
	must.Error(t, err)
}

func TestValidate_RejectsTooManyOutputLabels(t *testing.T) {
	_, err := Validate(Spec{Name: "web", Cmd: "/bin/true", RedirectOutput: []string{"a", "b", "c"}})
	must.Error(t, err)
}

func TestValidate_NegativeNumProcesses(t *testing.T) {
	_, err := Validate(Spec{Name: "web", Cmd: "/bin/true", NumProcesses: -1})
	must.Error(t, err)
}

func TestMergesStderr(t *testing.T) {
	s := Spec{RedirectOutput: []string{"out", "out"}}
	must.True(t, s.MergesStderr())
	must.Eq(t, []string{"out"}, s.StreamLabels())

	s2 := Spec{RedirectOutput: []string{"stdout", "stderr"}}
	must.False(t, s2.MergesStderr())
	must.Eq(t, []string{"stdout", "stderr"}, s2.StreamLabels())
}

func TestMaterialDiff(t *testing.T) {
	base := Spec{Name: "web", Cmd: "/bin/true", Args: []string{"-x"}}
	same := base
	same.Priority = 5 // non-material
	must.False(t, MaterialDiff(base, same))

	changed := base
	changed.Cmd = "/bin/false"
	must.True(t, MaterialDiff(base, changed))

	envChanged := base
	envChanged.Env = map[string]string{"A": "1"}
	must.True(t, MaterialDiff(base, envChanged))
}

func TestQualifiedName(t *testing.T) {
	tpl, err := New("app", Spec{Name: "web", Cmd: "/bin/true"})
	must.NoError(t, err)
	must.Eq(t, "app.web", tpl.QualifiedName())
}

func TestSessionRegistry(t *testing.T) {
	r := NewSessionRegistry()
	r.Add("app", "web")
	r.Add("app", "worker")
	r.Add("other", "cron")

	must.Eq(t, []string{"app", "other"}, r.Sessions())
	must.Eq(t, []string{"web", "worker"}, r.Names("app"))

	r.Remove("app", "web")
	must.Eq(t, []string{"worker"}, r.Names("app"))
	r.Remove("app", "worker")
	must.Eq(t, []string(nil), r.Names("app"))
	must.Eq(t, []string{"other"}, r.Sessions())
}

func TestSubstitute(t *testing.T) {
	env := map[string]string{"HOME": "/home/gaffer", "PORT": "8080"}
	must.Eq(t, "/home/gaffer/bin --port=8080", Substitute("$HOME/bin --port=${PORT}", env))
	must.Eq(t, "", Substitute("$MISSING", env))
}

func TestResolveEnv_OSEnvOverlay(t *testing.T) {
	t.Setenv("GAFFER_TEST_VAR", "from-os")
	env := ResolveEnv(Spec{OSEnv: true, Env: map[string]string{"GAFFER_TEST_VAR": "from-spec"}})
	must.Eq(t, "from-spec", env["GAFFER_TEST_VAR"])

	env2 := ResolveEnv(Spec{OSEnv: false, Env: map[string]string{"X": "1"}})
	must.Eq(t, "", env2["GAFFER_TEST_VAR"])
	must.Eq(t, "1", env2["X"])
}

func TestDecodeSpec_ArgsAsString(t *testing.T) {
	raw := map[string]any{
		"name": "web",
		"cmd":  "/bin/echo",
		"args": "hello world",
	}
	spec, err := DecodeSpec(raw)
	must.NoError(t, err)
	must.Eq(t, []string{"hello", "world"}, spec.Args)
}

func TestDecodeSpec_FlappingArray(t *testing.T) {
	raw := map[string]any{
		"name":     "crash",
		"cmd":      "/bin/false",
		"flapping": []any{3, 10, 1, 2},
	}
	spec, err := DecodeSpec(raw)
	must.NoError(t, err)
	must.Eq(t, 3, spec.Flapping.Attempts)
	must.Eq(t, 10*time.Second, spec.Flapping.Window)
	must.Eq(t, 1*time.Second, spec.Flapping.RetryIn)
	must.Eq(t, 2, spec.Flapping.MaxRetry)
}

func TestDecodeSpec_GracefulTimeoutSeconds(t *testing.T) {
	raw := map[string]any{
		"name":             "slow",
		"cmd":              "/bin/sleep",
		"graceful_timeout": 1.5,
	}
	spec, err := DecodeSpec(raw)
	must.NoError(t, err)
	must.Eq(t, 1500*time.Millisecond, spec.GracefulTimeout)
}
