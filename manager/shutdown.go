package manager

import (
	"github.com/hashicorp/go-multierror"
)

// ShutdownAll unloads every registered template, draining its instances
// before deregistering it, and aggregates any per-template failures into a
// single error (spec.md §4.1 "unloadTemplate", applied to every template at
// once for a clean ApplicationHost shutdown).
func (m *Manager) ShutdownAll() error {
	var result *multierror.Error
	for _, qname := range m.sortedQualifiedNames() {
		if err := m.UnloadTemplate(qname); err != nil {
			result = multierror.Append(result, err)
		}
	}
	m.Close()
	return result.ErrorOrNil()
}
