package commit

import "sort"

// SelectProposal picks one NextPotential proposal to act on this tick,
// ordered by: (a) carries my signature already, (b) more signatures, (c)
// smaller group_id (spec §4.6 step 2). Returns nil if there is no
// NextPotential candidate.
func SelectProposal(views []View, selfNodeID string) *View {
	var candidates []View
	for _, v := range views {
		if v.Status == StatusNextPotential {
			candidates = append(candidates, v)
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		aMine, bMine := a.HasSignatureFrom(selfNodeID), b.HasSignatureFrom(selfNodeID)
		if aMine != bMine {
			return aMine
		}
		if len(a.Signs) != len(b.Signs) {
			return len(a.Signs) > len(b.Signs)
		}
		return a.Proposal.GroupID < b.Proposal.GroupID
	})
	return &candidates[0]
}
