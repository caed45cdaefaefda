package cmds

import "testing"

func TestNewCommandTree(t *testing.T) {
	root := New()
	expected := map[string]bool{
		"selftrace": false,
		"dump":      false,
		"version":   false,
	}
	for _, cmd := range root.Commands() {
		if _, ok := expected[cmd.Name()]; ok {
			expected[cmd.Name()] = true
		}
	}
	for name, found := range expected {
		if !found {
			t.Errorf("command %q missing from the tree", name)
		}
	}
	for _, flag := range []string{"log", "log-output", "log-dest"} {
		if root.PersistentFlags().Lookup(flag) == nil {
			t.Errorf("persistent flag %q missing", flag)
		}
	}
}
