// Package rpm runs the RPM side of a layer build: installer transactions
// against a subvolume, RPM metadata queries, version comparison, and
// rpmbuild. Every command goes through the subvolume's Runner.
package rpm
