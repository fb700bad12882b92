// Package policy evaluates Open Policy Agent (OPA) Rego policies over the
// items of a layer before anything is built.
//
// Every enabled policy is evaluated once per item. The input document is
//
//	{
//	    "item":  {"kind": "install_file", "from_target": "//f:x", "phase": "none", "dest": "/etc/x", "mode": 420, ...},
//	    "layer": {"target": "//images:app", "allowed_host_mount_targets": [...], "rpm_installer": "dnf"}
//	}
//
// Paths are image-absolute, except make_dirs' path_to_make, which is
// relative to into_dir. Modes are permission bits as numbers.
//
// A policy defines a deny set in its own package. Each element is either a
// message string or an object with "message" and "severity". Violations
// with severity "error" block the build; others are reported as warnings.
//
// # Built-in Policies
//
//  1. host-mounts - host mounts only from allowed host mount targets
//  2. rpm-name-pinning - RPM names carry no version, epoch or architecture
//  3. world-writable - warns on files and directories writable by others
//
// # Custom Policies
//
// Custom policies are loaded from .rego or .json files, or directories of
// them. The comment block at the top of a .rego file is its description,
// and a "# severity: warning" line changes the default error severity:
//
//	# Nothing may be installed under /opt.
//	package custom.no_opt
//
//	import rego.v1
//
//	deny contains msg if {
//	    input.item.kind == "install_file"
//	    startswith(input.item.dest, "/opt/")
//	    msg := sprintf("%s installs under /opt", [input.item.dest])
//	}
//
// Usage:
//
//	eng, err := policy.NewEngine(logger)
//	if err != nil {
//	    return err
//	}
//	if err := eng.LoadPolicies(ctx, []string{"/etc/fsimage/policies"}); err != nil {
//	    return err
//	}
//	result, err := eng.EvaluateItems(ctx, items, opts)
//	if err != nil {
//	    return err
//	}
//	return result.Err()
//
// # Thread Safety
//
// The Engine is safe for concurrent use. Policies can be loaded, toggled
// and reloaded while evaluations run.
package policy
