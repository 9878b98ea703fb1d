package auth

// Allowlist is the fixed set of users allowed to use the service and to
// receive reminders.
type Allowlist struct {
	ids   []string
	index map[string]struct{}
}

func NewAllowlist(ids []string) *Allowlist {
	a := &Allowlist{index: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, dup := a.index[id]; dup {
			continue
		}
		a.index[id] = struct{}{}
		a.ids = append(a.ids, id)
	}
	return a
}

func (a *Allowlist) Contains(userID string) bool {
	_, ok := a.index[userID]
	return ok
}

// IDs returns the users in configuration order.
func (a *Allowlist) IDs() []string {
	out := make([]string, len(a.ids))
	copy(out, a.ids)
	return out
}
