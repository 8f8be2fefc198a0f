package manager

import (
	"fmt"

	"github.com/ryanuber/columnize"
)

// Dump renders a human-readable table of every registered template and its
// running instance count, in the style of the teacher's `nomad status`
// output. Intended for operator-facing CLIs and debug endpoints, not the
// JSON wire contract.
func (m *Manager) Dump() (string, error) {
	views, err := m.ListTemplates()
	if err != nil {
		return "", err
	}

	lines := []string{"NAME | SESSION | STATE | RUNNING | TARGET"}
	for _, v := range views {
		lines = append(lines, fmt.Sprintf("%s | %s | %s | %d | %d", v.Name, v.Session, v.State, v.Running, v.NumProcesses))
	}
	return columnize.SimpleFormat(lines), nil
}
