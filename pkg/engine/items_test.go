package engine

import (
	"archive/tar"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"reflect"
	"sort"
	"strings"
	"testing"

	"github.com/spf13/afero"

	"github.com/openfroyo/fsimage/pkg/subvol"
	"github.com/openfroyo/fsimage/pkg/subvol/subvoltest"
)

func providePaths(t *testing.T, item Item) []string {
	t.Helper()
	provides, err := item.Provides()
	if err != nil {
		t.Fatalf("Provides failed: %v", err)
	}
	out := make([]string, len(provides))
	for i, p := range provides {
		out[i] = ProvideString(p)
	}
	sort.Strings(out)
	return out
}

func requirePaths(t *testing.T, item Item) []string {
	t.Helper()
	requires, err := item.Requires()
	if err != nil {
		t.Fatalf("Requires failed: %v", err)
	}
	out := make([]string, len(requires))
	for i, r := range requires {
		out[i] = r.String()
	}
	sort.Strings(out)
	return out
}

func expectStrings(t *testing.T, what string, got, want []string) {
	t.Helper()
	if len(got) == 0 && len(want) == 0 {
		return
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %s %v, got %v", what, want, got)
	}
}

func TestMakeDirsItem(t *testing.T) {
	item, err := NewMakeDirsItem(base("//f"), "/usr", "local/share", 0, "")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if item.Mode != 0o755 || item.UserGroup != "root:root" {
		t.Errorf("Expected default mode and owner, got %o %s", item.Mode, item.UserGroup)
	}

	expectStrings(t, "provides", providePaths(t, item), []string{"directory(usr/local)", "directory(usr/local/share)"})
	expectStrings(t, "requires", requirePaths(t, item), []string{"is_directory(usr)"})

	sv, _ := subvoltest.New("/subvols/layer")
	mkdirs(t, sv, "usr")
	if err := item.Build(context.Background(), sv, &LayerOpts{}); err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	for _, p := range []string{"/usr/local", "/usr/local/share"} {
		info, err := sv.Fs().Stat(p)
		if err != nil {
			t.Fatalf("Expected %s to exist: %v", p, err)
		}
		if !info.IsDir() || info.Mode().Perm() != 0o755 {
			t.Errorf("Expected %s to be a 0755 directory, got %v", p, info.Mode())
		}
	}

	if _, err := NewMakeDirsItem(base("//f"), "/", "/", 0, ""); !HasCode(err, ErrCodeValidation) {
		t.Errorf("Expected a validation error for an empty path_to_make, got: %v", err)
	}
}

func TestInstallFileItem_File(t *testing.T) {
	host := useMemHostFs(t)
	if err := afero.WriteFile(host, "/src/tool", []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := afero.WriteFile(host, "/src/data", []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}

	tool, err := NewInstallFileItem(base("//f"), "/src/tool", "/usr/bin/tool", 0, "")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	data, err := NewInstallFileItem(base("//f"), "/src/data", "/etc/data", 0o600, "0:0")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	expectStrings(t, "provides", providePaths(t, tool), []string{"file(usr/bin/tool)"})
	expectStrings(t, "requires", requirePaths(t, tool), []string{"is_directory(usr/bin)"})

	sv, _ := subvoltest.New("/subvols/layer")
	mkdirs(t, sv, "usr/bin", "etc")
	for _, item := range []InstallFileItem{tool, data} {
		if err := item.Build(context.Background(), sv, &LayerOpts{}); err != nil {
			t.Fatalf("Build of %s failed: %v", item.Dest, err)
		}
	}

	checks := map[string]os.FileMode{"/usr/bin/tool": 0o555, "/etc/data": 0o600}
	for p, mode := range checks {
		info, err := sv.Fs().Stat(p)
		if err != nil {
			t.Fatalf("Expected %s to exist: %v", p, err)
		}
		if info.Mode().Perm() != mode {
			t.Errorf("Expected %s to have mode %o, got %o", p, mode, info.Mode().Perm())
		}
	}
	content, _ := afero.ReadFile(sv.Fs(), "/etc/data")
	if string(content) != "data" {
		t.Errorf("Expected copied content, got %q", content)
	}

	// Installing over an existing file fails.
	if err := data.Build(context.Background(), sv, &LayerOpts{}); err == nil {
		t.Error("Expected an error when the destination exists")
	}
}

func TestInstallFileItem_Directory(t *testing.T) {
	host := useMemHostFs(t)
	if err := host.MkdirAll("/src/tree/sub", 0o755); err != nil {
		t.Fatal(err)
	}
	if err := afero.WriteFile(host, "/src/tree/sub/run", []byte("x"), 0o700); err != nil {
		t.Fatal(err)
	}
	if err := afero.WriteFile(host, "/src/tree/README", []byte("r"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := NewInstallFileItem(base("//f"), "/src/tree", "/opt/tree", 0o644, ""); !HasCode(err, ErrCodeValidation) {
		t.Errorf("Expected a validation error for a mode on a directory, got: %v", err)
	}
	if _, err := NewInstallFileItem(base("//f"), "/src/missing", "/opt/x", 0, ""); !HasCode(err, ErrCodeNotFound) {
		t.Errorf("Expected a not found error, got: %v", err)
	}

	item, err := NewInstallFileItem(base("//f"), "/src/tree", "/opt/tree", 0, "")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	expectStrings(t, "provides", providePaths(t, item), []string{
		"directory(opt/tree)",
		"directory(opt/tree/sub)",
		"file(opt/tree/README)",
		"file(opt/tree/sub/run)",
	})
	expectStrings(t, "requires", requirePaths(t, item), []string{"is_directory(opt)"})

	sv, _ := subvoltest.New("/subvols/layer")
	mkdirs(t, sv, "opt")
	if err := item.Build(context.Background(), sv, &LayerOpts{}); err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	info, err := sv.Fs().Stat("/opt/tree/sub/run")
	if err != nil {
		t.Fatalf("Expected the nested file to exist: %v", err)
	}
	if info.Mode().Perm() != 0o555 {
		t.Errorf("Expected an executable to get 0555, got %o", info.Mode().Perm())
	}
	info, err = sv.Fs().Stat("/opt/tree/README")
	if err != nil {
		t.Fatalf("Expected README to exist: %v", err)
	}
	if info.Mode().Perm() != 0o444 {
		t.Errorf("Expected a data file to get 0444, got %o", info.Mode().Perm())
	}
}

func TestSymlinkItems_Validation(t *testing.T) {
	tests := []struct {
		name   string
		source string
		dest   string
	}{
		{"self link", "/a/b", "/a/b"},
		{"self link by basename", "/a/b", "/a/"},
		{"root dest", "/a", "/"},
		{"escaping source", "../a", "/b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewSymlinkToDirItem(base("//f"), tt.source, tt.dest); !HasCode(err, ErrCodeValidation) {
				t.Errorf("Expected a validation error, got: %v", err)
			}
		})
	}
	if _, err := NewSymlinkToFileItem(base("//f"), "/", "/x"); !HasCode(err, ErrCodeValidation) {
		t.Errorf("Expected a validation error for a root file source, got: %v", err)
	}
}

func TestSymlinkItems_RequiresProvides(t *testing.T) {
	toDir, err := NewSymlinkToDirItem(base("//f"), "/usr/lib", "/lib")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	expectStrings(t, "provides", providePaths(t, toDir), []string{"directory(lib)"})
	expectStrings(t, "requires", requirePaths(t, toDir), []string{"is_directory(.)", "is_directory(usr/lib)"})

	nested, err := NewSymlinkToDirItem(base("//f"), "/usr", "/usr/self")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	expectStrings(t, "requires", requirePaths(t, nested), []string{"is_directory(usr)"})

	toFile, err := NewSymlinkToFileItem(base("//f"), "/etc/hosts", "/etc/hosts.link")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	expectStrings(t, "provides", providePaths(t, toFile), []string{"file(etc/hosts.link)"})
	expectStrings(t, "requires", requirePaths(t, toFile), []string{"is_directory(etc)", "is_file(etc/hosts)"})

	devNull, err := NewSymlinkToFileItem(base("//f"), "/dev/null", "/etc/blocked")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	expectStrings(t, "requires", requirePaths(t, devNull), []string{"is_directory(etc)"})

	sv, runner := subvoltest.New("/subvols/layer")
	if err := toFile.Build(context.Background(), sv, &LayerOpts{}); err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	want := "ln --symbolic --no-dereference /etc/hosts /subvols/layer/etc/hosts.link"
	if lines := runner.CommandLines(); len(lines) != 1 || lines[0] != want {
		t.Errorf("Expected %q, got %v", want, lines)
	}
	if !runner.Commands()[0].AsRoot {
		t.Error("Expected ln to run as root")
	}
}

func writeTarball(t *testing.T, fs afero.Fs, path string, entries ...tar.Header) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, hdr := range entries {
		if err := tw.WriteHeader(&hdr); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := afero.WriteFile(fs, path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestTarballItem(t *testing.T) {
	host := useMemHostFs(t)
	data := writeTarball(t, host, "/src/t.tar",
		tar.Header{Name: "./", Typeflag: tar.TypeDir, Mode: 0o755},
		tar.Header{Name: "./bin/", Typeflag: tar.TypeDir, Mode: 0o755},
		tar.Header{Name: "./bin/tool", Typeflag: tar.TypeReg, Mode: 0o755},
	)
	sum := sha256.Sum256(data)

	item, err := NewTarballItem(base("//f"), "/src/t.tar", "/opt", "sha256:"+hex.EncodeToString(sum[:]), true)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	expectStrings(t, "provides", providePaths(t, item), []string{"directory(opt/bin)", "file(opt/bin/tool)"})
	expectStrings(t, "requires", requirePaths(t, item), []string{"is_directory(opt)"})

	sv, runner := subvoltest.New("/subvols/layer")
	if err := item.Build(context.Background(), sv, &LayerOpts{}); err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	want := "tar -C /subvols/layer/opt -x --force-local --no-same-owner --keep-old-files -f -"
	if lines := runner.CommandLines(); len(lines) != 1 || lines[0] != want {
		t.Fatalf("Expected %q, got %v", want, lines)
	}
	if runner.Stdin(0) != string(data) {
		t.Error("Expected the tarball to be streamed to tar")
	}

	bad, err := NewTarballItem(base("//f"), "/src/t.tar", "/opt", "sha256:00", false)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if err := bad.Build(context.Background(), sv, &LayerOpts{}); err == nil {
		t.Error("Expected a digest mismatch")
	}
}

func TestPhasesProvideItem(t *testing.T) {
	sv, _ := subvoltest.New("/subvols/layer")
	mkdirs(t, sv, "etc", "meta/private", "mnt/data")
	if err := afero.WriteFile(sv.Fs(), "/etc/passwd", nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := sv.WriteMount(subvol.MountRecord{Mountpoint: "mnt/data", IsDirectory: true}); err != nil {
		t.Fatal(err)
	}

	item := NewPhasesProvideItem("//layer", sv)
	expectStrings(t, "provides", providePaths(t, item), []string{
		"directory(.)",
		"directory(etc)",
		"directory(mnt)",
		"do_not_access(meta)",
		"do_not_access(mnt/data)",
		"file(etc/passwd)",
	})
	expectStrings(t, "requires", requirePaths(t, item), nil)
}

func TestFilesystemRootItem(t *testing.T) {
	root := FilesystemRootItem{ItemBase: base("//layer")}
	builder, err := root.PhaseBuilder(context.Background(), []Item{root}, &LayerOpts{})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	sv, runner := subvoltest.New("/subvols/layer")
	if err := builder(context.Background(), sv); err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if !runner.Contains("btrfs subvolume create /subvols/layer") {
		t.Errorf("Expected a subvolume to be created, got %v", runner.CommandLines())
	}
	if info, err := sv.Fs().Stat("/meta"); err != nil || !info.IsDir() {
		t.Errorf("Expected the meta directory, got %v", err)
	}

	other := FilesystemRootItem{ItemBase: base("//other")}
	if _, err := root.PhaseBuilder(context.Background(), []Item{root, other}, &LayerOpts{}); !HasCode(err, ErrCodeMakeSubvol) {
		t.Errorf("Expected a make-subvol error, got: %v", err)
	}
}

func TestParentLayerItem(t *testing.T) {
	parent, _ := subvoltest.New("/subvols/parent")
	child, runner := subvoltest.New("/subvols/child")

	// Stands in for the mount record the snapshot copies from the parent.
	record := subvol.MountRecord{Mountpoint: "mnt/tools", IsDirectory: true, BuildSource: subvol.MountSource{Type: "layer", Source: "//tools"}}
	if err := child.WriteMount(record); err != nil {
		t.Fatal(err)
	}

	if _, err := NewParentLayerItem(base("//child"), ""); !HasCode(err, ErrCodeValidation) {
		t.Errorf("Expected a validation error for an empty parent, got: %v", err)
	}
	item, err := NewParentLayerItem(base("//child"), "//parent")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if _, err := item.PhaseBuilder(context.Background(), []Item{item}, &LayerOpts{}); !HasCode(err, ErrCodeNotFound) {
		t.Errorf("Expected an unresolvable parent to fail, got: %v", err)
	}

	opts := &LayerOpts{Subvolumes: fakeLocator{"//parent": parent}}
	builder, err := item.PhaseBuilder(context.Background(), []Item{item}, opts)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if err := builder(context.Background(), child); err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	want := []string{
		"btrfs subvolume snapshot /subvols/parent /subvols/child",
		"mount -o ro,rbind /subvols/parent/mnt/tools /subvols/child/mnt/tools",
		"mount -o remount,ro,bind /subvols/child/mnt/tools",
	}
	expectStrings(t, "commands", runner.CommandLines(), want)
}

func TestReceiveSendstreamItem(t *testing.T) {
	host := useMemHostFs(t)
	if err := afero.WriteFile(host, "/src/layer.sendstream", []byte("stream"), 0o644); err != nil {
		t.Fatal(err)
	}

	item, err := NewReceiveSendstreamItem(base("//layer"), "/src/layer.sendstream")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	builder, err := item.PhaseBuilder(context.Background(), []Item{item}, &LayerOpts{})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	sv, runner := subvoltest.New("/subvols/layer")
	runner.Handler = func(cmd subvol.Command) (*subvol.Result, error) {
		if cmd.Name == "btrfs" && cmd.Args[0] == "receive" {
			if err := host.MkdirAll(cmd.Args[1]+"/volume", 0o755); err != nil {
				return nil, err
			}
		}
		return &subvol.Result{}, nil
	}
	if err := builder(context.Background(), sv); err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	want := []string{
		"mkdir --mode=0700 /subvols/layer.receive",
		"btrfs receive /subvols/layer.receive",
		"mv --no-target-directory /subvols/layer.receive/volume /subvols/layer",
		"rmdir /subvols/layer.receive",
		"btrfs property set -ts /subvols/layer ro false",
	}
	expectStrings(t, "commands", runner.CommandLines(), want)
	if runner.Stdin(1) != "stream" {
		t.Errorf("Expected the sendstream on stdin, got %q", runner.Stdin(1))
	}
}

func TestCloneItem(t *testing.T) {
	source, _ := subvoltest.New("/subvols/source")
	mkdirs(t, source, "usr/share/doc", "meta")
	if err := afero.WriteFile(source.Fs(), "/usr/share/doc/README", nil, 0o644); err != nil {
		t.Fatal(err)
	}
	opts := &LayerOpts{Subvolumes: fakeLocator{"//source": source}}

	tests := []struct {
		name        string
		dest        string
		omit        bool
		preExisting bool
		provides    []string
		requires    []string
		command     string
	}{
		{
			name:     "new dest",
			dest:     "/docs",
			provides: []string{"directory(docs)", "file(docs/README)"},
			requires: []string{"is_directory(.)"},
			command:  "/subvols/source/usr/share/doc /subvols/layer/docs",
		},
		{
			name:        "into existing dir",
			dest:        "/opt",
			preExisting: true,
			provides:    []string{"directory(opt/doc)", "file(opt/doc/README)"},
			requires:    []string{"is_directory(opt)"},
			command:     "/subvols/source/usr/share/doc /subvols/layer/opt/doc",
		},
		{
			name:        "omit outer dir",
			dest:        "/opt",
			omit:        true,
			preExisting: true,
			provides:    []string{"file(opt/README)"},
			requires:    []string{"is_directory(opt)"},
			command:     "/subvols/source/usr/share/doc/. /subvols/layer/opt",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item, err := NewCloneItem(base("//f"), "//source", "/usr/share/doc", tt.dest, tt.omit, tt.preExisting, opts)
			if err != nil {
				t.Fatalf("Expected no error, got: %v", err)
			}
			expectStrings(t, "provides", providePaths(t, item), tt.provides)
			expectStrings(t, "requires", requirePaths(t, item), tt.requires)

			sv, runner := subvoltest.New("/subvols/layer")
			if err := item.Build(context.Background(), sv, opts); err != nil {
				t.Fatalf("Build failed: %v", err)
			}
			lines := runner.CommandLines()
			if len(lines) != 1 || !strings.HasPrefix(lines[0], "cp --recursive") || !strings.HasSuffix(lines[0], tt.command) {
				t.Errorf("Expected cp ending in %q, got %v", tt.command, lines)
			}
		})
	}

	if _, err := NewCloneItem(base("//f"), "//source", "/usr", "/x", true, false, opts); !HasCode(err, ErrCodeValidation) {
		t.Errorf("Expected omit_outer_dir without pre_existing_dest to fail, got: %v", err)
	}
	if _, err := NewCloneItem(base("//f"), "//source", "/usr", "/", false, false, opts); !HasCode(err, ErrCodeValidation) {
		t.Errorf("Expected a root dest without pre_existing_dest to fail, got: %v", err)
	}
	if _, err := NewCloneItem(base("//f"), "//missing", "/usr", "/x", false, false, opts); !HasCode(err, ErrCodeNotFound) {
		t.Errorf("Expected an unknown layer to fail, got: %v", err)
	}
}

func TestCloneItem_ProtectedPathsOfSource(t *testing.T) {
	source, _ := subvoltest.New("/subvols/source")
	mkdirs(t, source, "meta", "etc")
	opts := &LayerOpts{Subvolumes: fakeLocator{"//source": source}}

	item, err := NewCloneItem(base("//f"), "//source", "/", "/copy", false, false, opts)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	expectStrings(t, "provides", providePaths(t, item), []string{
		"directory(copy)",
		"directory(copy/etc)",
		"do_not_access(copy/meta)",
	})
}

func TestMountItem(t *testing.T) {
	tools, _ := subvoltest.New("/subvols/tools")
	nested, _ := subvoltest.New("/subvols/nested")
	if err := nested.WriteMount(subvol.MountRecord{Mountpoint: "mnt", IsDirectory: true}); err != nil {
		t.Fatal(err)
	}
	opts := &LayerOpts{
		Subvolumes:              fakeLocator{"//tools": tools, "//nested": nested},
		AllowedHostMountTargets: []string{"//host_mounts/"},
	}

	item, err := NewMountItem(base("//f"), MountConfig{
		Mountpoint:    "/mnt/tools",
		IsDirectory:   true,
		SourceType:    MountSourceLayer,
		Source:        "//tools",
		RuntimeSource: map[string]any{"type": "layer", "source": "//tools"},
	}, opts)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if item.RuntimeSource != `{"source":"//tools","type":"layer"}` {
		t.Errorf("Expected sorted runtime JSON, got %s", item.RuntimeSource)
	}
	expectStrings(t, "provides", providePaths(t, item), []string{"do_not_access(mnt/tools)"})
	expectStrings(t, "requires", requirePaths(t, item), []string{"is_directory(mnt)"})

	sv, runner := subvoltest.New("/subvols/layer")
	mkdirs(t, sv, "mnt")
	if err := item.Build(context.Background(), sv, opts); err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	expectStrings(t, "commands", runner.CommandLines(), []string{
		"mount -o ro,rbind /subvols/tools /subvols/layer/mnt/tools",
		"mount -o remount,ro,bind /subvols/layer/mnt/tools",
	})
	mounts, err := sv.Mounts()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(mounts) != 1 || mounts[0].Mountpoint != "mnt/tools" || mounts[0].BuildSource.Source != "//tools" {
		t.Errorf("Unexpected mount records: %+v", mounts)
	}

	protected, err := ProtectedPathSet(sv)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !IsPathProtected("mnt/tools/bin", protected) || IsPathProtected("mnt", protected) {
		t.Errorf("Unexpected protected paths %v", protected.Sorted())
	}
}

func TestMountItem_Validation(t *testing.T) {
	nested, _ := subvoltest.New("/subvols/nested")
	if err := nested.WriteMount(subvol.MountRecord{Mountpoint: "mnt", IsDirectory: true}); err != nil {
		t.Fatal(err)
	}
	opts := &LayerOpts{
		Subvolumes:              fakeLocator{"//nested": nested},
		AllowedHostMountTargets: []string{"//host_mounts"},
	}

	tests := []struct {
		name   string
		target string
		cfg    MountConfig
		code   string
	}{
		{
			name:   "host mount outside the allowlist",
			target: "//app:mounts",
			cfg:    MountConfig{Mountpoint: "/host", IsDirectory: true, SourceType: MountSourceHost, Source: "/etc"},
			code:   ErrCodePolicyViolation,
		},
		{
			name:   "host mount from a sibling of an allowed target",
			target: "//host_mountsX:foo",
			cfg:    MountConfig{Mountpoint: "/host", IsDirectory: true, SourceType: MountSourceHost, Source: "/etc"},
			code:   ErrCodePolicyViolation,
		},
		{
			name:   "host mount from a sibling package",
			target: "//host_mounts_extra/x:m",
			cfg:    MountConfig{Mountpoint: "/host", IsDirectory: true, SourceType: MountSourceHost, Source: "/etc"},
			code:   ErrCodePolicyViolation,
		},
		{
			name:   "nested mounts",
			target: "//app:mounts",
			cfg:    MountConfig{Mountpoint: "/n", IsDirectory: true, SourceType: MountSourceLayer, Source: "//nested"},
			code:   ErrCodeValidation,
		},
		{
			name:   "host runtime source",
			target: "//host_mounts/x:m",
			cfg: MountConfig{Mountpoint: "/h", IsDirectory: true, SourceType: MountSourceHost, Source: "/etc",
				RuntimeSource: map[string]any{"type": "host"}},
			code: ErrCodeValidation,
		},
		{
			name:   "bad source type",
			target: "//app:mounts",
			cfg:    MountConfig{Mountpoint: "/x", SourceType: "nfs"},
			code:   ErrCodeValidation,
		},
		{
			name:   "root mountpoint",
			target: "//app:mounts",
			cfg:    MountConfig{Mountpoint: "/", SourceType: MountSourceLayer, Source: "//nested"},
			code:   ErrCodeValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewMountItem(base(tt.target), tt.cfg, opts)
			if !HasCode(err, tt.code) {
				t.Errorf("Expected code %s, got: %v", tt.code, err)
			}
		})
	}

	if _, err := NewMountItem(base("//host_mounts/x:m"), MountConfig{
		Mountpoint: "/etc/host", SourceType: MountSourceHost, Source: "/etc/resolv.conf",
	}, opts); err != nil {
		t.Errorf("Expected an allowed host mount, got: %v", err)
	}
}
