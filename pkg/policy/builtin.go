package policy

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		hostMountsPolicy(),
		rpmNamePinningPolicy(),
		worldWritablePolicy(),
	}
}

// hostMountsPolicy keeps host mounts, which make images depend on the build
// host, to the targets allowed to declare them.
func hostMountsPolicy() Policy {
	return Policy{
		Name:        "host-mounts",
		Description: "Host mounts may only be declared by targets under the allowed host mount targets",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"hermeticity", "mounts"},
		Rego: `package fsimage.policies.host_mounts

import rego.v1

deny contains violation if {
	item := input.item
	item.kind == "mount"
	item.source_type == "host"
	not allowed(item.from_target)
	violation := {
		"message": sprintf("host mount of %s at %s is not allowed from %s", [item.source, item.mountpoint, item.from_target]),
		"severity": "error",
	}
}

allowed(target) if {
	some prefix in input.layer.allowed_host_mount_targets
	target == prefix
}

allowed(target) if {
	some prefix in input.layer.allowed_host_mount_targets
	startswith(target, concat("", [trim_right(prefix, "/"), "/"]))
}

allowed(target) if {
	some prefix in input.layer.allowed_host_mount_targets
	startswith(target, concat("", [trim_right(prefix, ":"), ":"]))
}
`,
	}
}

// rpmNamePinningPolicy rejects RPM names carrying a version, release, epoch
// or architecture. Versions come from the repository snapshot, not from
// package names.
func rpmNamePinningPolicy() Policy {
	return Policy{
		Name:        "rpm-name-pinning",
		Description: "RPM actions must name packages without version, epoch or architecture pins",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"rpm", "reproducibility"},
		Rego: `package fsimage.policies.rpm_name_pinning

import rego.v1

pin_patterns := [
	` + "`[<>=]`" + `,
	` + "`[0-9]:[0-9]`" + `,
	` + "`-[0-9]+(\\.[0-9]+)*-[0-9]`" + `,
	` + "`\\.(x86_64|aarch64|i686|noarch|src)$`" + `,
]

deny contains violation if {
	item := input.item
	item.kind == "rpm_action"
	item.name != ""
	some pattern in pin_patterns
	regex.match(pattern, item.name)
	violation := {
		"message": sprintf("RPM name %q pins a version or architecture; name the package only", [item.name]),
		"severity": "error",
	}
}
`,
	}
}

// worldWritablePolicy flags installed files and directories any user can
// write to.
func worldWritablePolicy() Policy {
	return Policy{
		Name:        "world-writable",
		Description: "Installed files and directories should not be writable by others",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"permissions"},
		Rego: `package fsimage.policies.world_writable

import rego.v1

checked_kinds := {"make_dirs", "install_file"}

deny contains violation if {
	item := input.item
	item.kind in checked_kinds
	bits.and(item.mode, 2) != 0
	violation := {
		"message": sprintf("%s grants write access to others (mode %o)", [item_path(item), item.mode]),
		"severity": "warning",
	}
}

item_path(item) := item.dest if item.kind == "install_file"

item_path(item) := concat("/", [trim_right(item.into_dir, "/"), item.path_to_make]) if item.kind == "make_dirs"
`,
	}
}
