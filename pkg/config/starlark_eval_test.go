package config

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestStarlarkEvaluator_Evaluate(t *testing.T) {
	evaluator := NewStarlarkEvaluator(5*time.Second, zerolog.Nop())
	ctx := context.Background()

	tests := []struct {
		name      string
		script    string
		input     map[string]interface{}
		checkFunc func(*testing.T, *StarlarkResult)
		wantErr   bool
	}{
		{
			name:   "simple arithmetic",
			script: `result = 2 + 2`,
			checkFunc: func(t *testing.T, sr *StarlarkResult) {
				if sr.Output["result"] != int64(4) {
					t.Errorf("expected result=4, got %v", sr.Output["result"])
				}
			},
		},
		{
			name:   "use input variables",
			script: `dirs = [prefix + "/" + d for d in names]`,
			input: map[string]interface{}{
				"prefix": "etc",
				"names":  []string{"a", "b"},
			},
			checkFunc: func(t *testing.T, sr *StarlarkResult) {
				dirs, ok := sr.Output["dirs"].([]interface{})
				if !ok || len(dirs) != 2 || dirs[1] != "etc/b" {
					t.Errorf("expected dirs [etc/a etc/b], got %v", sr.Output["dirs"])
				}
			},
		},
		{
			name: "functions and private globals are not exported",
			script: `
def _double(n):
    return n * 2

def helper():
    return 1

_hidden = 3
shown = _double(_hidden)
`,
			checkFunc: func(t *testing.T, sr *StarlarkResult) {
				if len(sr.Output) != 1 || sr.Output["shown"] != int64(6) {
					t.Errorf("expected only shown=6, got %v", sr.Output)
				}
			},
		},
		{
			name:   "struct builtin",
			script: `s = struct(path = "/etc", mode = "0755")`,
			checkFunc: func(t *testing.T, sr *StarlarkResult) {
				s, ok := sr.Output["s"].(map[string]interface{})
				if !ok || s["path"] != "/etc" || s["mode"] != "0755" {
					t.Errorf("expected struct with path and mode, got %v", sr.Output["s"])
				}
			},
		},
		{
			name: "layer builtins",
			script: `
layer = image_layer("//images:base", parent_layer = "//images:root", features = [
    feature("//features:etc", [
        make_dirs("/", "etc/app", mode = "0755"),
        rpm_install("cat"),
        rpm_remove_if_exists("dog"),
        remove_path("/var/log/x"),
        rpm_build("/rpmbuild"),
    ]),
])
`,
			checkFunc: func(t *testing.T, sr *StarlarkResult) {
				layer, ok := sr.Output["layer"].(map[string]interface{})
				if !ok {
					t.Fatalf("expected layer to be a dict, got %T", sr.Output["layer"])
				}
				if layer["layer"] != "//images:base" || layer["parent_layer"] != "//images:root" {
					t.Errorf("unexpected layer fields: %v", layer)
				}
				features := layer["features"].([]interface{})
				feature := features[0].(map[string]interface{})
				if feature["target"] != "//features:etc" {
					t.Errorf("expected target //features:etc, got %v", feature["target"])
				}
				rpms := feature["rpms"].([]interface{})
				if len(rpms) != 2 {
					t.Fatalf("expected 2 rpms, got %d", len(rpms))
				}
				if rpms[1].(map[string]interface{})["action"] != "remove_if_exists" {
					t.Errorf("expected remove_if_exists, got %v", rpms[1])
				}
				removes := feature["remove_paths"].([]interface{})
				if removes[0].(map[string]interface{})["action"] != "assert_exists" {
					t.Errorf("expected default action assert_exists, got %v", removes[0])
				}
				makeDirs := feature["make_dirs"].([]interface{})
				if _, ok := makeDirs[0].(map[string]interface{})["user_group"]; ok {
					t.Errorf("expected unset optional arguments to be omitted, got %v", makeDirs[0])
				}
				if feature["rpm_build"].(map[string]interface{})["rpmbuild_dir"] != "/rpmbuild" {
					t.Errorf("unexpected rpm_build: %v", feature["rpm_build"])
				}
			},
		},
		{
			name:    "rpm_build twice",
			script:  `f = feature("//f", [rpm_build("/a"), rpm_build("/b")])`,
			wantErr: true,
		},
		{
			name:    "feature with a non-item",
			script:  `f = feature("//f", [struct(path = "/etc")])`,
			wantErr: true,
		},
		{
			name:    "missing required argument",
			script:  `d = make_dirs("/")`,
			wantErr: true,
		},
		{
			name:    "load is not allowed",
			script:  `load("other.star", "x")`,
			wantErr: true,
		},
		{
			name:    "syntax error",
			script:  `invalid syntax here`,
			wantErr: true,
		},
		{
			name:    "runtime error",
			script:  `result = undefined_variable`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := evaluator.Evaluate(ctx, "test.star", tt.script, tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got output %v", result.Output)
				}
				if result.Error == "" {
					t.Errorf("expected result error to be set")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.checkFunc != nil {
				tt.checkFunc(t, result)
			}
		})
	}
}

func TestStarlarkEvaluator_Timeout(t *testing.T) {
	evaluator := NewStarlarkEvaluator(100*time.Millisecond, zerolog.Nop())

	script := `
def spin():
    n = 0
    for i in range(1000000000):
        n += i
    return n

result = spin()
`
	start := time.Now()
	_, err := evaluator.Evaluate(context.Background(), "spin.star", script, nil)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !strings.Contains(err.Error(), "timed out") {
		t.Errorf("expected timeout error, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("expected evaluation to stop promptly, took %v", elapsed)
	}
}

func TestStarlarkEvaluator_Print(t *testing.T) {
	var buf strings.Builder
	evaluator := NewStarlarkEvaluator(5*time.Second, zerolog.New(&buf).Level(zerolog.DebugLevel))

	result, err := evaluator.Evaluate(context.Background(), "print.star", `
print("hello from the script")
result = "done"
`, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Output["result"] != "done" {
		t.Errorf("expected result='done', got %v", result.Output["result"])
	}
	if !strings.Contains(buf.String(), "hello from the script") {
		t.Errorf("expected print output in the log, got %q", buf.String())
	}
}
