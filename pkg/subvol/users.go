package subvol

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
)

// Owner is a numeric uid/gid pair.
type Owner struct {
	UID int
	GID int
}

// RootOwner is root:root.
var RootOwner = Owner{UID: 0, GID: 0}

// ResolveOwner resolves "user:group" against the image's own /etc/passwd
// and /etc/group, so that ownership never depends on the build host. Numeric
// IDs are accepted as is; root always resolves to 0.
func (s *Subvol) ResolveOwner(userGroup string) (Owner, error) {
	user, group, ok := strings.Cut(userGroup, ":")
	if !ok || user == "" || group == "" {
		return Owner{}, fmt.Errorf("owner %q must be of the form user:group", userGroup)
	}

	uid, err := s.lookupID("etc/passwd", user)
	if err != nil {
		return Owner{}, err
	}
	gid, err := s.lookupID("etc/group", group)
	if err != nil {
		return Owner{}, err
	}
	return Owner{UID: uid, GID: gid}, nil
}

func (s *Subvol) lookupID(db, name string) (int, error) {
	if id, err := strconv.Atoi(name); err == nil {
		return id, nil
	}
	if name == "root" {
		return 0, nil
	}

	f, err := s.fs.Open(FsPath(db))
	if err != nil {
		return 0, fmt.Errorf("cannot resolve %q: %w", name, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		// name:password:id:...
		fields := strings.Split(line, ":")
		if len(fields) < 3 || fields[0] != name {
			continue
		}
		id, err := strconv.Atoi(fields[2])
		if err != nil {
			return 0, fmt.Errorf("bad id for %q in /%s: %w", name, db, err)
		}
		return id, nil
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}
	return 0, fmt.Errorf("%q not found in /%s", name, db)
}
