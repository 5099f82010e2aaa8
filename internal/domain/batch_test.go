package domain

import (
	"encoding/json"
	"testing"
	"time"
)

func strPtr(s string) *string   { return &s }
func numPtr(f float64) *float64 { return &f }
func flexPtr(s string) *FlexString {
	f := FlexString(s)
	return &f
}

func TestNewBatch(t *testing.T) {
	t.Run("RetainsAndDrops", func(t *testing.T) {
		batch := NewBatch([]ClaimRecord{
			{ClaimID: flexPtr("C1"), IncidentDate: strPtr("2015-01-10")},
			{ClaimID: flexPtr("C2"), IncidentDate: strPtr("garbage")},
			{ClaimID: flexPtr("C3")},
			{ClaimID: flexPtr("C4"), IncidentDate: strPtr("2015-02-01")},
		}, time.Now())

		if batch.Retained != 2 {
			t.Errorf("expected 2 retained, got %d", batch.Retained)
		}
		if batch.Dropped != 2 {
			t.Errorf("expected 2 dropped, got %d", batch.Dropped)
		}
	})

	t.Run("DateLayouts", func(t *testing.T) {
		layouts := []string{
			"2015-01-10",
			"2015-01-10T14:30:00Z",
			"2015-01-10 14:30:00",
			"01/10/2015",
		}
		for _, raw := range layouts {
			batch := NewBatch([]ClaimRecord{
				{ClaimID: flexPtr("C"), IncidentDate: strPtr(raw)},
			}, time.Now())
			if batch.Retained != 1 {
				t.Errorf("expected layout %q to parse", raw)
			}
		}
	})

	t.Run("GeneratedIDs", func(t *testing.T) {
		batch := NewBatch([]ClaimRecord{
			{IncidentDate: strPtr("2015-01-10")},
			{IncidentDate: strPtr("2015-01-11")},
		}, time.Now())

		if batch.Claims[0].ID != "CLAIM_000000" {
			t.Errorf("expected generated id CLAIM_000000, got %s", batch.Claims[0].ID)
		}
		if batch.Claims[1].ID != "CLAIM_000001" {
			t.Errorf("expected generated id CLAIM_000001, got %s", batch.Claims[1].ID)
		}
	})

	t.Run("DuplicateIDsSuffixed", func(t *testing.T) {
		batch := NewBatch([]ClaimRecord{
			{ClaimID: flexPtr("SAME"), IncidentDate: strPtr("2015-01-10")},
			{ClaimID: flexPtr("SAME"), IncidentDate: strPtr("2015-01-11")},
		}, time.Now())

		if batch.Claims[0].ID != "SAME" {
			t.Errorf("expected first id kept, got %s", batch.Claims[0].ID)
		}
		if batch.Claims[1].ID != "SAME_1" {
			t.Errorf("expected second id suffixed, got %s", batch.Claims[1].ID)
		}
		if _, ok := batch.Claim("SAME_1"); !ok {
			t.Error("expected suffixed id resolvable")
		}
	})

	t.Run("ColumnTracking", func(t *testing.T) {
		batch := NewBatch([]ClaimRecord{
			{ClaimID: flexPtr("C1"), IncidentDate: strPtr("2015-01-10"), TotalClaimAmount: numPtr(5000)},
			{ClaimID: flexPtr("C2"), IncidentDate: strPtr("2015-01-11"), IncidentState: strPtr("OH")},
		}, time.Now())

		// A column counts as available when any record supplied it.
		if !batch.HasColumn(ColClaimAmount) {
			t.Error("expected claim amount column available")
		}
		if !batch.HasColumn(ColIncidentState) {
			t.Error("expected incident state column available")
		}
		if batch.HasColumn(ColWitnesses) {
			t.Error("witnesses column should not be available")
		}

		if n := batch.CountColumns(ColClaimAmount, ColIncidentState, ColWitnesses); n != 2 {
			t.Errorf("expected 2 of 3 columns available, got %d", n)
		}

		// Per-claim presence stays per-record even when the batch has the
		// column.
		c1, _ := batch.Claim("C1")
		c2, _ := batch.Claim("C2")
		if !c1.Has(ColClaimAmount) || c2.Has(ColClaimAmount) {
			t.Error("claim amount presence should follow each record")
		}
	})

	t.Run("ClaimLookup", func(t *testing.T) {
		batch := NewBatch([]ClaimRecord{
			{ClaimID: flexPtr("C1"), IncidentDate: strPtr("2015-01-10")},
		}, time.Now())

		if _, ok := batch.Claim("C1"); !ok {
			t.Error("expected claim C1 found")
		}
		if _, ok := batch.Claim("MISSING"); ok {
			t.Error("expected missing claim not found")
		}
	})
}

func TestRestoredBatch(t *testing.T) {
	original := NewBatch([]ClaimRecord{
		{ClaimID: flexPtr("C1"), IncidentDate: strPtr("2015-01-10"), TotalClaimAmount: numPtr(5000)},
	}, time.Now())

	// Round-trip the claim through JSON the way the repository does.
	data, err := json.Marshal(original.Claims[0])
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	var restored Claim
	if err := json.Unmarshal(data, &restored); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	batch := RestoredBatch([]Claim{restored}, time.Now())

	if batch.Retained != 1 || batch.Dropped != 0 {
		t.Errorf("expected 1 retained and 0 dropped, got %d/%d", batch.Retained, batch.Dropped)
	}
	if !batch.HasColumn(ColClaimAmount) {
		t.Error("expected column availability rebuilt from restored claims")
	}
	if _, ok := batch.Claim("C1"); !ok {
		t.Error("expected id lookup rebuilt from restored claims")
	}
}

func TestClaimJSONRoundTrip(t *testing.T) {
	batch := NewBatch([]ClaimRecord{
		{
			ClaimID:          flexPtr("C1"),
			PolicyNumber:     flexPtr("P-100"),
			IncidentDate:     strPtr("2015-01-10"),
			TotalClaimAmount: numPtr(8000),
		},
	}, time.Now())
	claim := batch.Claims[0]

	data, err := json.Marshal(claim)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var restored Claim
	if err := json.Unmarshal(data, &restored); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if restored.ID != "C1" || restored.PolicyNumber != "P-100" {
		t.Errorf("identity lost in round trip: %+v", restored)
	}
	if !restored.Has(ColClaimAmount) {
		t.Error("expected amount presence to survive the round trip")
	}
	if restored.Has(ColWitnesses) {
		t.Error("absent column must stay absent after the round trip")
	}
	if v, ok := restored.Numeric(ColClaimAmount); !ok || v != 8000 {
		t.Errorf("expected amount 8000 present, got %v/%v", v, ok)
	}
}

func TestClaimHelpers(t *testing.T) {
	t.Run("PriorFraud", func(t *testing.T) {
		cases := map[string]bool{
			"Y":     true,
			"y":     true,
			"yes":   true,
			" YES ": true,
			"N":     false,
			"no":    false,
			"":      false,
		}
		for raw, want := range cases {
			c := Claim{FraudReported: raw}
			if c.PriorFraud() != want {
				t.Errorf("PriorFraud(%q) = %v, want %v", raw, !want, want)
			}
		}
	})

	t.Run("VehicleAge", func(t *testing.T) {
		asOf := time.Date(2015, 3, 1, 0, 0, 0, 0, time.UTC)

		batch := NewBatch([]ClaimRecord{
			{ClaimID: flexPtr("C1"), IncidentDate: strPtr("2015-01-10"), AutoYear: flexPtr("1998")},
			{ClaimID: flexPtr("C2"), IncidentDate: strPtr("2015-01-10"), AutoYear: flexPtr("n/a")},
			{ClaimID: flexPtr("C3"), IncidentDate: strPtr("2015-01-10")},
		}, time.Now())

		c1, _ := batch.Claim("C1")
		if age, ok := c1.VehicleAge(asOf); !ok || age != 17 {
			t.Errorf("expected age 17, got %d/%v", age, ok)
		}

		c2, _ := batch.Claim("C2")
		if _, ok := c2.VehicleAge(asOf); ok {
			t.Error("expected non-numeric year rejected")
		}

		c3, _ := batch.Claim("C3")
		if _, ok := c3.VehicleAge(asOf); ok {
			t.Error("expected absent year rejected")
		}
	})
}

func TestFlexString(t *testing.T) {
	var rec ClaimRecord
	payload := `{
		"claim_id": 112233,
		"policy_number": "P-100",
		"insured_zip": 43210.0,
		"auto_year": "2009"
	}`
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if string(*rec.ClaimID) != "112233" {
		t.Errorf("expected bare integer normalized, got %s", string(*rec.ClaimID))
	}
	if string(*rec.PolicyNumber) != "P-100" {
		t.Errorf("expected string kept, got %s", string(*rec.PolicyNumber))
	}
	if string(*rec.InsuredZip) != "43210" {
		t.Errorf("expected float-typed zip to drop its fraction, got %s", string(*rec.InsuredZip))
	}
	if string(*rec.AutoYear) != "2009" {
		t.Errorf("expected quoted year kept, got %s", string(*rec.AutoYear))
	}
}

func TestBandForScore(t *testing.T) {
	cases := []struct {
		score int
		want  RiskBand
	}{
		{0, BandMinimal},
		{19, BandMinimal},
		{20, BandLow},
		{39, BandLow},
		{40, BandMedium},
		{69, BandMedium},
		{70, BandHigh},
		{100, BandHigh},
	}
	for _, tc := range cases {
		if got := BandForScore(tc.score); got != tc.want {
			t.Errorf("BandForScore(%d) = %s, want %s", tc.score, got, tc.want)
		}
	}
}
