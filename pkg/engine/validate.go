package engine

import (
	"fmt"
	"sort"
)

// ItemProv pairs a provide with the item that emitted it.
type ItemProv struct {
	Item    Item
	Provide Provide
}

// ItemReq pairs a requirement with the item that emitted it.
type ItemReq struct {
	Item        Item
	Requirement Requirement
}

// ReqsProvs collects everything the item set says about one path.
type ReqsProvs struct {
	// Provides has at most one entry once validated.
	Provides []ItemProv
	Requires []ItemReq
}

// PathIndex maps each mentioned path to its requires and provides.
type PathIndex map[Path]*ReqsProvs

// ValidatedReqsProvs is a path index whose items are known to satisfy
// each other: every path is provided at most once, and every requirement
// is matched by the provide at its path.
type ValidatedReqsProvs struct {
	index PathIndex
}

// ValidateReqsProvs indexes the requires and provides of items by path and
// checks that they are consistent.
func ValidateReqsProvs(items []Item) (*ValidatedReqsProvs, error) {
	index := make(PathIndex)

	for _, item := range items {
		if err := addItem(index, item); err != nil {
			return nil, err
		}
	}

	for _, path := range index.Paths() {
		rp := index[path]
		if len(rp.Requires) == 0 {
			continue
		}
		for _, ir := range rp.Requires {
			if len(rp.Provides) == 0 || !rp.Provides[0].Provide.Matches(index, ir.Requirement) {
				return nil, unmatchedRequirementError(ir, rp)
			}
		}
	}

	return &ValidatedReqsProvs{index: index}, nil
}

func addItem(index PathIndex, item Item) error {
	requires, err := item.Requires()
	if err != nil {
		return fmt.Errorf("failed to compute requirements of %s: %w", ItemString(item), err)
	}
	provides, err := item.Provides()
	if err != nil {
		return fmt.Errorf("failed to compute provides of %s: %w", ItemString(item), err)
	}

	// An item mentions each path at most once across its requires and provides.
	seen := make(map[Path]string, len(requires)+len(provides))
	checkSeen := func(path Path, what string) error {
		if prev, ok := seen[path]; ok {
			return NewInternalError(
				fmt.Sprintf("%s has both %s and %s at the same path", ItemString(item), prev, what), nil,
			).WithCode(ErrCodeDuplicatePath).WithResource(path.String())
		}
		seen[path] = what
		return nil
	}

	for _, req := range requires {
		if err := checkSeen(req.Path, req.String()); err != nil {
			return err
		}
		rp := index.entry(req.Path)
		rp.Requires = append(rp.Requires, ItemReq{Item: item, Requirement: req})
	}

	for _, prov := range provides {
		path := prov.ProvidedPath()
		if err := checkSeen(path, ProvideString(prov)); err != nil {
			return err
		}
		rp := index.entry(path)
		if len(rp.Provides) > 0 {
			other := rp.Provides[0]
			return NewConflictError(
				fmt.Sprintf("both %s from %s and %s from %s provide the same path",
					ProvideString(other.Provide), ItemString(other.Item), ProvideString(prov), ItemString(item)),
				nil,
			).WithCode(ErrCodeDuplicateProvide).WithResource(path.String()).
				WithDetail("items", []string{other.Item.Provenance(), item.Provenance()})
		}
		rp.Provides = append(rp.Provides, ItemProv{Item: item, Provide: prov})
	}

	return nil
}

func unmatchedRequirementError(ir ItemReq, rp *ReqsProvs) error {
	provided := "nothing"
	if len(rp.Provides) > 0 {
		provided = fmt.Sprintf("%s from %s", ProvideString(rp.Provides[0].Provide), ItemString(rp.Provides[0].Item))
	}
	return NewPermanentError(
		fmt.Sprintf("%s requires %s but the path has %s", ItemString(ir.Item), ir.Requirement, provided),
		nil,
	).WithCode(ErrCodeUnmatchedRequirement).WithResource(ir.Requirement.Path.String()).
		WithDetail("item", ir.Item.Provenance())
}

func (idx PathIndex) entry(path Path) *ReqsProvs {
	rp, ok := idx[path]
	if !ok {
		rp = &ReqsProvs{}
		idx[path] = rp
	}
	return rp
}

// Paths returns the indexed paths in lexical order.
func (idx PathIndex) Paths() []Path {
	paths := make([]Path, 0, len(idx))
	for p := range idx {
		paths = append(paths, p)
	}
	sort.Slice(paths, func(i, j int) bool { return paths[i] < paths[j] })
	return paths
}

// Index returns the validated path index.
func (v *ValidatedReqsProvs) Index() PathIndex {
	return v.index
}

// Get returns the entry for path, if any item mentions it.
func (v *ValidatedReqsProvs) Get(path Path) (*ReqsProvs, bool) {
	rp, ok := v.index[path]
	return rp, ok
}
