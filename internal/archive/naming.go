package archive

import "orc-import/pkg/model"

// ChildNames computes the Name/FullName of a member extracted from parent,
// delegating to the shared naming rule in pkg/model so the archive package
// and any future extractor share exactly one implementation of the
// naming rule.
func ChildNames(parent *model.ImportItem, nameInArchive string) (name, fullName string) {
	return model.ChildNames(parent, nameInArchive)
}
