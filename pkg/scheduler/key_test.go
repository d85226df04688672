package scheduler

import "testing"

func TestNewKey(t *testing.T) {
	tests := []struct {
		name      string
		keyName   string
		keyGroup  string
		wantGroup string
		wantFull  string
	}{
		{
			name:      "explicit group",
			keyName:   "nightly",
			keyGroup:  "reports",
			wantGroup: "reports",
			wantFull:  "reports.nightly",
		},
		{
			name:      "empty group defaults",
			keyName:   "nightly",
			keyGroup:  "",
			wantGroup: DefaultGroup,
			wantFull:  "DEFAULT.nightly",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k := NewKey(tt.keyName, tt.keyGroup)
			if k.Group != tt.wantGroup {
				t.Errorf("Group = %q, want %q", k.Group, tt.wantGroup)
			}
			if k.FullName() != tt.wantFull {
				t.Errorf("FullName() = %q, want %q", k.FullName(), tt.wantFull)
			}
		})
	}
}

func TestKeyEqualityAndHash(t *testing.T) {
	a := NewKey("sync", "jobs")
	b := NewKey("sync", "jobs")
	c := NewKey("sync", "other")

	if a != b {
		t.Error("keys with same name and group should be equal")
	}
	if a == c {
		t.Error("keys with different groups should not be equal")
	}
	if a.Hash() != b.Hash() {
		t.Error("equal keys must hash equal")
	}
	if a.Hash() == c.Hash() {
		t.Error("distinct keys should not collide on a short test set")
	}
	if a.Hash() < 0 {
		t.Errorf("Hash() = %d, want non-negative", a.Hash())
	}
}

func TestKeyIsEmpty(t *testing.T) {
	if !(Key{}).IsEmpty() {
		t.Error("zero key should be empty")
	}
	if NewKey("x", "").IsEmpty() {
		t.Error("named key should not be empty")
	}
}
