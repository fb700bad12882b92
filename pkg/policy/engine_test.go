package policy

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/openfroyo/fsimage/pkg/engine"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	eng, err := NewEngine(zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	return eng
}

func TestNewEngine(t *testing.T) {
	eng := newTestEngine(t)

	policies := eng.ListPolicies()
	expected := []string{"host-mounts", "rpm-name-pinning", "world-writable"}
	if len(policies) != len(expected) {
		t.Fatalf("Expected %d built-in policies, got %d", len(expected), len(policies))
	}
	for i, name := range expected {
		if policies[i].Name != name {
			t.Errorf("Expected policy %d to be %s, got %s", i, name, policies[i].Name)
		}
	}
}

func hostMount(from string) engine.MountItem {
	return engine.MountItem{
		ItemBase:    engine.ItemBase{FromTarget: from},
		Mountpoint:  engine.MustPath("/mnt/host"),
		IsDirectory: true,
		SourceType:  engine.MountSourceHost,
		Source:      "/srv/data",
	}
}

func rpmInstall(name string) engine.RpmActionItem {
	return engine.RpmActionItem{
		ItemBase: engine.ItemBase{FromTarget: "//features:pkgs"},
		Name:     name,
		Action:   engine.RpmActionInstall,
	}
}

func TestEvaluateItems_BuiltinPolicies(t *testing.T) {
	eng := newTestEngine(t)
	opts := &engine.LayerOpts{
		LayerTarget:             "//images:app",
		AllowedHostMountTargets: []string{"//host/mounts", "//images:dev"},
	}

	tests := []struct {
		name          string
		item          engine.Item
		wantAllowed   bool
		wantViolation string
		wantWarning   string
	}{
		{
			name:        "host mount from an allowed package",
			item:        hostMount("//host/mounts/data:mnt"),
			wantAllowed: true,
		},
		{
			name:        "host mount from an allowed target",
			item:        hostMount("//images:dev"),
			wantAllowed: true,
		},
		{
			name:          "host mount from a sibling prefix",
			item:          hostMount("//host/mountsx:mnt"),
			wantAllowed:   false,
			wantViolation: "host-mounts",
		},
		{
			name:          "host mount from anywhere else",
			item:          hostMount("//features:mnt"),
			wantAllowed:   false,
			wantViolation: "host-mounts",
		},
		{
			name: "layer mount",
			item: engine.MountItem{
				ItemBase:   engine.ItemBase{FromTarget: "//features:mnt"},
				Mountpoint: engine.MustPath("/mnt/base"),
				SourceType: engine.MountSourceLayer,
				Source:     "//images:base",
			},
			wantAllowed: true,
		},
		{
			name:        "plain rpm name",
			item:        rpmInstall("python3-libs"),
			wantAllowed: true,
		},
		{
			name:          "rpm name with version and release",
			item:          rpmInstall("bash-5.1.8-4.el9"),
			wantAllowed:   false,
			wantViolation: "rpm-name-pinning",
		},
		{
			name:          "rpm name with architecture",
			item:          rpmInstall("bash.x86_64"),
			wantAllowed:   false,
			wantViolation: "rpm-name-pinning",
		},
		{
			name:          "rpm name with comparison",
			item:          rpmInstall("bash >= 5"),
			wantAllowed:   false,
			wantViolation: "rpm-name-pinning",
		},
		{
			name: "local rpm",
			item: engine.RpmActionItem{
				ItemBase: engine.ItemBase{FromTarget: "//features:pkgs"},
				Source:   "/rpms/cat-1.0-1.noarch.rpm",
				Action:   engine.RpmActionInstall,
			},
			wantAllowed: true,
		},
		{
			name: "world writable directory",
			item: engine.MakeDirsItem{
				ItemBase:   engine.ItemBase{FromTarget: "//features:dirs"},
				IntoDir:    engine.RootPath,
				PathToMake: engine.MustPath("tmp/shared"),
				Mode:       0o777,
			},
			wantAllowed: true,
			wantWarning: "world-writable",
		},
		{
			name: "private file",
			item: engine.InstallFileItem{
				ItemBase: engine.ItemBase{FromTarget: "//features:etc"},
				Source:   "/layers/app.conf",
				Dest:     engine.MustPath("/etc/app.conf"),
				Mode:     0o600,
			},
			wantAllowed: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := eng.EvaluateItems(context.Background(), []engine.Item{tt.item}, opts)
			if err != nil {
				t.Fatalf("EvaluateItems failed: %v", err)
			}

			if result.Allowed != tt.wantAllowed {
				t.Errorf("Expected allowed=%v, got %v (violations: %v)", tt.wantAllowed, result.Allowed, result.Violations)
			}
			if tt.wantViolation == "" && len(result.Violations) != 0 {
				t.Errorf("Expected no violations, got %v", result.Violations)
			}
			if tt.wantViolation != "" {
				if len(result.Violations) != 1 || result.Violations[0].Policy != tt.wantViolation {
					t.Fatalf("Expected one %s violation, got %v", tt.wantViolation, result.Violations)
				}
				if result.Violations[0].Target != tt.item.Provenance() {
					t.Errorf("Expected violation target %s, got %s", tt.item.Provenance(), result.Violations[0].Target)
				}
				if result.Violations[0].Kind != tt.item.Kind() {
					t.Errorf("Expected violation kind %s, got %s", tt.item.Kind(), result.Violations[0].Kind)
				}
			}
			if tt.wantWarning == "" && len(result.Warnings) != 0 {
				t.Errorf("Expected no warnings, got %v", result.Warnings)
			}
			if tt.wantWarning != "" && (len(result.Warnings) != 1 || result.Warnings[0].Policy != tt.wantWarning) {
				t.Errorf("Expected one %s warning, got %v", tt.wantWarning, result.Warnings)
			}
			if len(result.EvaluatedPolicies) != 3 {
				t.Errorf("Expected 3 evaluated policies, got %v", result.EvaluatedPolicies)
			}
		})
	}
}

func TestEvaluateItems_WarningMessage(t *testing.T) {
	eng := newTestEngine(t)
	item := engine.MakeDirsItem{
		ItemBase:   engine.ItemBase{FromTarget: "//features:dirs"},
		IntoDir:    engine.MustPath("/var"),
		PathToMake: engine.MustPath("tmp"),
		Mode:       0o1777,
	}

	result, err := eng.EvaluateItems(context.Background(), []engine.Item{item}, &engine.LayerOpts{LayerTarget: "//a"})
	if err != nil {
		t.Fatalf("EvaluateItems failed: %v", err)
	}
	if len(result.Warnings) != 1 {
		t.Fatalf("Expected 1 warning, got %v", result.Warnings)
	}
	if msg := result.Warnings[0].Message; !strings.Contains(msg, "/var/tmp") || !strings.Contains(msg, "777") {
		t.Errorf("Expected message naming /var/tmp and mode 777, got %q", msg)
	}
}

func TestResult_Err(t *testing.T) {
	eng := newTestEngine(t)
	items := []engine.Item{hostMount("//features:mnt"), rpmInstall("bash.x86_64"), rpmInstall("bash")}

	result, err := eng.EvaluateItems(context.Background(), items, &engine.LayerOpts{LayerTarget: "//a"})
	if err != nil {
		t.Fatalf("EvaluateItems failed: %v", err)
	}
	if len(result.Violations) != 2 {
		t.Fatalf("Expected 2 violations, got %v", result.Violations)
	}

	verr := result.Err()
	if verr == nil {
		t.Fatal("Expected error, got nil")
	}
	if !engine.HasCode(verr, engine.ErrCodePolicyViolation) {
		t.Errorf("Expected code %s, got %v", engine.ErrCodePolicyViolation, verr)
	}
	if !engine.IsPermanent(verr) {
		t.Error("Expected a permanent error")
	}

	allowed := &Result{Allowed: true}
	if err := allowed.Err(); err != nil {
		t.Errorf("Expected nil error for an allowed result, got %v", err)
	}
}

func TestDisableEnablePolicy(t *testing.T) {
	eng := newTestEngine(t)
	items := []engine.Item{rpmInstall("bash.x86_64")}
	opts := &engine.LayerOpts{LayerTarget: "//a"}

	if err := eng.DisablePolicy("rpm-name-pinning"); err != nil {
		t.Fatalf("DisablePolicy failed: %v", err)
	}
	result, err := eng.EvaluateItems(context.Background(), items, opts)
	if err != nil {
		t.Fatalf("EvaluateItems failed: %v", err)
	}
	if !result.Allowed {
		t.Errorf("Expected disabled policy to be skipped, got %v", result.Violations)
	}
	for _, name := range result.EvaluatedPolicies {
		if name == "rpm-name-pinning" {
			t.Error("Expected disabled policy not to be evaluated")
		}
	}

	if err := eng.EnablePolicy("rpm-name-pinning"); err != nil {
		t.Fatalf("EnablePolicy failed: %v", err)
	}
	result, err = eng.EvaluateItems(context.Background(), items, opts)
	if err != nil {
		t.Fatalf("EvaluateItems failed: %v", err)
	}
	if result.Allowed {
		t.Error("Expected re-enabled policy to deny")
	}

	if err := eng.DisablePolicy("nope"); err == nil {
		t.Error("Expected error disabling an unknown policy")
	}
}

func TestAddPolicies_Custom(t *testing.T) {
	eng := newTestEngine(t)

	custom := Policy{
		Name:     "no-opt",
		Severity: SeverityError,
		Enabled:  true,
		Rego: `package custom.no_opt

import rego.v1

deny contains msg if {
	input.item.kind == "install_file"
	startswith(input.item.dest, "/opt/")
	msg := sprintf("%s installs under /opt in layer %s", [input.item.dest, input.layer.target])
}
`,
	}
	if err := eng.AddPolicies(context.Background(), []Policy{custom}); err != nil {
		t.Fatalf("AddPolicies failed: %v", err)
	}

	item := engine.InstallFileItem{
		ItemBase: engine.ItemBase{FromTarget: "//features:opt"},
		Source:   "/layers/tool",
		Dest:     engine.MustPath("/opt/tool"),
		Mode:     0o755,
	}
	result, err := eng.EvaluateItems(context.Background(), []engine.Item{item}, &engine.LayerOpts{LayerTarget: "//images:app"})
	if err != nil {
		t.Fatalf("EvaluateItems failed: %v", err)
	}
	if len(result.Violations) != 1 {
		t.Fatalf("Expected 1 violation, got %v", result.Violations)
	}
	v := result.Violations[0]
	if v.Policy != "no-opt" || v.Severity != SeverityError {
		t.Errorf("Expected an error from no-opt, got %+v", v)
	}
	if v.Message != "/opt/tool installs under /opt in layer //images:app" {
		t.Errorf("Unexpected message: %q", v.Message)
	}

	if err := eng.ReloadPolicies(context.Background()); err != nil {
		t.Fatalf("ReloadPolicies failed: %v", err)
	}
	if _, err := eng.GetPolicy("no-opt"); err == nil {
		t.Error("Expected custom policy to be dropped on reload")
	}
}

func TestAddPolicies_Invalid(t *testing.T) {
	eng := newTestEngine(t)
	bad := Policy{Name: "bad", Enabled: true, Rego: "package bad\n\ndeny contains msg if {"}

	if err := eng.AddPolicies(context.Background(), []Policy{bad}); err == nil {
		t.Fatal("Expected error for invalid rego, got nil")
	}
	if _, err := eng.GetPolicy("bad"); err == nil {
		t.Error("Expected invalid policy not to be stored")
	}
}

func TestCreateViolation(t *testing.T) {
	policy := &Policy{Name: "p", Severity: SeverityWarning}

	tests := []struct {
		name         string
		result       interface{}
		wantMessage  string
		wantSeverity Severity
	}{
		{"string", "plain", "plain", SeverityWarning},
		{"object", map[string]interface{}{"message": "obj", "severity": "error"}, "obj", SeverityError},
		{"object without severity", map[string]interface{}{"message": "obj"}, "obj", SeverityWarning},
		{"other", 42, "42", SeverityWarning},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := createViolation(policy, tt.result)
			if v.Message != tt.wantMessage {
				t.Errorf("Expected message %q, got %q", tt.wantMessage, v.Message)
			}
			if v.Severity != tt.wantSeverity {
				t.Errorf("Expected severity %s, got %s", tt.wantSeverity, v.Severity)
			}
		})
	}
}
