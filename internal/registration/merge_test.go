package registration

import "testing"

func reg(id int, status Status, confirmed bool) *Registration {
	return &Registration{ID: id, Status: status, IsConfirmed: confirmed}
}

func TestMergeKeepsLocalAdvance(t *testing.T) {
	local := []*Registration{reg(1, StatusConsulting, true)}
	fetched := []*Registration{reg(1, StatusWaiting, false)}

	out := Merge(local, fetched)
	if len(out) != 1 {
		t.Fatalf("len = %d", len(out))
	}
	if out[0].Status != StatusConsulting {
		t.Errorf("status = %s, local advance must win over stale fetch", out[0].Status)
	}
	if !out[0].IsConfirmed {
		t.Error("IsConfirmed must travel with the winning side")
	}
}

func TestMergeTiePrefersFetched(t *testing.T) {
	local := []*Registration{reg(1, StatusCalling, true)}
	fetched := []*Registration{reg(1, StatusCalling, false)}

	out := Merge(local, fetched)
	if out[0].IsConfirmed {
		t.Error("equal ranks must prefer the fetched side")
	}
}

func TestMergeFetchedAdvanceWins(t *testing.T) {
	local := []*Registration{reg(1, StatusWaiting, false)}
	fetched := []*Registration{reg(1, StatusCompleted, true)}

	out := Merge(local, fetched)
	if out[0].Status != StatusCompleted {
		t.Errorf("status = %s, fetched advance must win", out[0].Status)
	}
}

func TestMergeServerAuthoritativeForExistence(t *testing.T) {
	local := []*Registration{reg(1, StatusConsulting, false), reg(2, StatusWaiting, false)}
	fetched := []*Registration{reg(2, StatusWaiting, false), reg(3, StatusWaiting, false)}

	out := Merge(local, fetched)
	if len(out) != 2 {
		t.Fatalf("len = %d, want 2", len(out))
	}
	ids := map[int]bool{}
	for _, r := range out {
		ids[r.ID] = true
	}
	if ids[1] {
		t.Error("registration absent from fetch must be dropped")
	}
	if !ids[2] || !ids[3] {
		t.Errorf("fetched registrations missing: %v", ids)
	}
}

func TestMergeNonStatusFieldsComeFromFetch(t *testing.T) {
	local := []*Registration{{ID: 1, Status: StatusConsulting, PatientName: "Old Name", Sequence: 9}}
	fetched := []*Registration{{ID: 1, Status: StatusWaiting, PatientName: "New Name", Sequence: 2}}

	out := Merge(local, fetched)
	if out[0].PatientName != "New Name" || out[0].Sequence != 2 {
		t.Errorf("non-protected fields must come from the fetch: %+v", out[0])
	}
	if out[0].Status != StatusConsulting {
		t.Errorf("status = %s", out[0].Status)
	}
}

func TestMergeIdempotent(t *testing.T) {
	local := []*Registration{reg(1, StatusCalling, false)}
	fetched := []*Registration{reg(1, StatusWaiting, false), reg(2, StatusWaiting, false)}

	once := Merge(local, fetched)
	twice := Merge(once, fetched)
	if len(once) != len(twice) {
		t.Fatalf("lengths differ: %d vs %d", len(once), len(twice))
	}
	for i := range once {
		if *once[i] != *twice[i] {
			t.Errorf("merge not idempotent at %d: %+v vs %+v", i, once[i], twice[i])
		}
	}
}

func TestStatusRanks(t *testing.T) {
	tests := []struct {
		status Status
		rank   int
	}{
		{StatusWaiting, 0},
		{StatusCalling, 1},
		{StatusConsulting, 2},
		{StatusCompleted, 3},
		{StatusCancelled, 3},
	}
	for _, tt := range tests {
		if got := tt.status.Rank(); got != tt.rank {
			t.Errorf("%s.Rank() = %d, want %d", tt.status, got, tt.rank)
		}
	}
	if !StatusCompleted.Terminal() || !StatusCancelled.Terminal() {
		t.Error("COMPLETED and CANCELLED are terminal")
	}
	if StatusConsulting.Terminal() {
		t.Error("CONSULTING is not terminal")
	}
	if ParseStatus("garbage") != StatusWaiting {
		t.Error("unknown ledger values default to WAITING")
	}
}
