package registration

// Merge reconciles the locally held queue against a freshly fetched page.
// The server is authoritative for existence and for every field except
// Status and IsConfirmed: for those two the side with the higher status rank
// wins, and ties go to the fetched side. This keeps a refresh from visibly
// regressing a transition the operator just applied, because the store's
// ledger write and assignment read are not transactionally linked and a
// poll can observe the old status.
//
// Only Status and IsConfirmed are rank-protected; any future field mutated
// locally between refreshes must be added here explicitly.
func Merge(local, fetched []*Registration) []*Registration {
	byID := make(map[int]*Registration, len(local))
	for _, r := range local {
		byID[r.ID] = r
	}

	out := make([]*Registration, 0, len(fetched))
	for _, f := range fetched {
		merged := *f
		if l, ok := byID[f.ID]; ok && l.Status.Rank() > f.Status.Rank() {
			merged.Status = l.Status
			merged.IsConfirmed = l.IsConfirmed
		}
		out = append(out, &merged)
	}
	return out
}
