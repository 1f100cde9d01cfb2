package match

// RematchVotes is the set of participants who asked for a rematch in the
// current round. It is guarded by the owning Room's mutex.
type RematchVotes struct {
	voters map[string]struct{}
}

// Add records a vote from connID.
//
// Postcondition: Returns the number of votes and whether this vote was new.
func (v *RematchVotes) Add(connID string) (count int, added bool) {
	if v.voters == nil {
		v.voters = make(map[string]struct{}, 2)
	}
	if _, ok := v.voters[connID]; ok {
		return len(v.voters), false
	}
	v.voters[connID] = struct{}{}
	return len(v.voters), true
}

// Has reports whether connID has voted this round.
func (v *RematchVotes) Has(connID string) bool {
	_, ok := v.voters[connID]
	return ok
}

// Len returns the number of votes this round.
func (v *RematchVotes) Len() int {
	return len(v.voters)
}

// Clear starts a new round.
func (v *RematchVotes) Clear() {
	v.voters = nil
}
