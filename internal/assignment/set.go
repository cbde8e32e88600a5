package assignment

// roleSet knows only the permission ids directly granted to one role.
// It is not safe for concurrent use, roleEntry guards it.
type roleSet map[string]struct{}

func (s roleSet) has(id string) bool {
	_, ok := s[id]
	return ok
}

// add returns false if id is already there
func (s roleSet) add(id string) bool {
	if s.has(id) {
		return false
	}
	s[id] = struct{}{}
	return true
}

// remove returns false if id is not there
func (s roleSet) remove(id string) bool {
	if !s.has(id) {
		return false
	}
	delete(s, id)
	return true
}

func (s roleSet) clone() map[string]struct{} {
	out := make(map[string]struct{}, len(s))
	for id := range s {
		out[id] = struct{}{}
	}
	return out
}

// diff returns ids to add and to remove to turn s into target, in target order for additions
func (s roleSet) diff(target []string) (added, removed []string) {
	want := make(map[string]struct{}, len(target))
	for _, id := range target {
		if _, dup := want[id]; dup {
			continue
		}
		want[id] = struct{}{}
		if !s.has(id) {
			added = append(added, id)
		}
	}
	for id := range s {
		if _, ok := want[id]; !ok {
			removed = append(removed, id)
		}
	}
	return added, removed
}
