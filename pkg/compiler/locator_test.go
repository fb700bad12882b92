package compiler

import (
	"testing"

	"github.com/spf13/afero"

	"github.com/openfroyo/fsimage/pkg/subvol"
)

func TestSubvolumeName(t *testing.T) {
	tests := []struct {
		target string
		want   string
	}{
		{"//images:app", "images_app"},
		{"//images/base:rootfs", "images_base_rootfs"},
		{"plain", "plain"},
		{"//", "layer"},
	}

	for _, tt := range tests {
		if got := SubvolumeName(tt.target); got != tt.want {
			t.Errorf("SubvolumeName(%q) = %q, expected %q", tt.target, got, tt.want)
		}
	}
}

func TestDirLocator(t *testing.T) {
	built := afero.NewMemMapFs()
	for _, dir := range []string{"/subvols/images_base", "/elsewhere/appliance"} {
		if err := built.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("failed to create %s: %v", dir, err)
		}
	}

	opened := make(map[string]int)
	open := func(path string) *subvol.Subvol {
		opened[path]++
		return subvol.NewWithFs(path, afero.NewBasePathFs(built, path), nil)
	}
	locator := NewDirLocator("/subvols", map[string]string{"//images:appliance": "/elsewhere/appliance"}, open)

	sv, err := locator.Locate("//images:base")
	if err != nil {
		t.Fatalf("Locate failed: %v", err)
	}
	if sv.Path() != "/subvols/images_base" {
		t.Errorf("Expected /subvols/images_base, got %s", sv.Path())
	}

	sv, err = locator.Locate("//images:appliance")
	if err != nil {
		t.Fatalf("Locate failed: %v", err)
	}
	if sv.Path() != "/elsewhere/appliance" {
		t.Errorf("Expected mapped path, got %s", sv.Path())
	}

	if _, err := locator.Locate("//images:missing"); err == nil {
		t.Error("Expected error for a layer that is not built")
	}

	if _, err := locator.Locate("//images:base"); err != nil {
		t.Fatalf("Locate failed: %v", err)
	}
	if opened["/subvols/images_base"] != 1 {
		t.Errorf("Expected one open of a cached layer, got %d", opened["/subvols/images_base"])
	}

	locator.Forget("//images:base")
	if _, err := locator.Locate("//images:base"); err != nil {
		t.Fatalf("Locate failed: %v", err)
	}
	if opened["/subvols/images_base"] != 2 {
		t.Errorf("Expected a forgotten layer to be opened again, got %d opens", opened["/subvols/images_base"])
	}
}

func TestDirLocator_NoDirectory(t *testing.T) {
	locator := NewDirLocator("", nil, func(path string) *subvol.Subvol {
		t.Fatalf("unexpected open of %s", path)
		return nil
	})
	if _, err := locator.Locate("//images:base"); err == nil {
		t.Error("Expected error without a subvolumes directory")
	}
}
