package workflow

import (
	"strings"
	"testing"
)

func TestGenerateOrderCodes_SingleItemWithShortFinalCase(t *testing.T) {
	in := GenerateInput{
		OrderNo:             "ORD-1001",
		ManufacturerCode:    "MFR7",
		Items:               []GenerateItem{{ProductCode: "P1", VariantCode: "V1", Qty: 250}},
		BufferPercent:       10,
		DefaultUnitsPerCase: 100,
	}
	batch, err := GenerateOrderCodes(in)
	if err != nil {
		t.Fatalf("GenerateOrderCodes: %v", err)
	}

	if len(batch.Masters) != 3 {
		t.Fatalf("expected 3 masters, got %d", len(batch.Masters))
	}
	wantCounts := []int{100, 100, 50}
	for i, m := range batch.Masters {
		if m.CaseNo != i+1 {
			t.Fatalf("master %d: case no %d, want %d", i, m.CaseNo, i+1)
		}
		if m.ExpectedUnitCount != wantCounts[i] {
			t.Fatalf("case %d: expected unit count %d, want %d", m.CaseNo, m.ExpectedUnitCount, wantCounts[i])
		}
	}

	if batch.TotalBaseUnits != 250 {
		t.Fatalf("total base units %d, want 250", batch.TotalBaseUnits)
	}
	if batch.TotalBufferUnits != 25 {
		t.Fatalf("total buffer units %d, want 25", batch.TotalBufferUnits)
	}
	if batch.TotalUniqueCodes() != 275 {
		t.Fatalf("total unique codes %d, want 275", batch.TotalUniqueCodes())
	}
	if len(batch.Units) != 275 {
		t.Fatalf("unit slice length %d, want 275", len(batch.Units))
	}

	// Sequence numbers are contiguous from 1 and buffers continue the range.
	for i, u := range batch.Units {
		if u.SequenceNo != i+1 {
			t.Fatalf("unit %d: sequence no %d, want %d", i, u.SequenceNo, i+1)
		}
		if i < 250 && u.IsBuffer {
			t.Fatalf("sequence %d: base unit flagged as buffer", u.SequenceNo)
		}
		if i >= 250 && !u.IsBuffer {
			t.Fatalf("sequence %d: buffer unit not flagged", u.SequenceNo)
		}
	}

	// Buffers round-robin across the three cases.
	bufferPerCase := map[int]int{}
	for _, u := range batch.Units[250:] {
		bufferPerCase[u.CaseNo]++
	}
	if bufferPerCase[1] != 9 || bufferPerCase[2] != 8 || bufferPerCase[3] != 8 {
		t.Fatalf("buffer distribution %v, want case1=9 case2=8 case3=8", bufferPerCase)
	}
}

func TestGenerateOrderCodes_Deterministic(t *testing.T) {
	in := GenerateInput{
		OrderNo:             "ORD-42",
		ManufacturerCode:    "ACME",
		Items:               []GenerateItem{{ProductCode: "P1", VariantCode: "V1", Qty: 37}},
		BufferPercent:       5,
		DefaultUnitsPerCase: 12,
	}
	a, err := GenerateOrderCodes(in)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	b, err := GenerateOrderCodes(in)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(a.Units) != len(b.Units) || len(a.Masters) != len(b.Masters) {
		t.Fatalf("runs disagree on sizes: %d/%d vs %d/%d", len(a.Masters), len(a.Units), len(b.Masters), len(b.Units))
	}
	for i := range a.Units {
		if a.Units[i] != b.Units[i] {
			t.Fatalf("unit %d differs between runs: %+v vs %+v", i, a.Units[i], b.Units[i])
		}
	}
	for i := range a.Masters {
		if a.Masters[i] != b.Masters[i] {
			t.Fatalf("master %d differs between runs: %+v vs %+v", i, a.Masters[i], b.Masters[i])
		}
	}
}

func TestGenerateOrderCodes_PerItemCaseSizes(t *testing.T) {
	in := GenerateInput{
		OrderNo:          "ORD-77",
		ManufacturerCode: "MFR",
		Items: []GenerateItem{
			{ProductCode: "P1", VariantCode: "V1", Qty: 20, UnitsPerCase: 10},
			{ProductCode: "P2", VariantCode: "V2", Qty: 15, UnitsPerCase: 6},
		},
		BufferPercent:       0,
		DefaultUnitsPerCase: 50,
		PerItemCaseSize:     true,
	}
	batch, err := GenerateOrderCodes(in)
	if err != nil {
		t.Fatalf("GenerateOrderCodes: %v", err)
	}

	// 2 cases of 10, then 6+6+3: five cases total, numbered contiguously.
	if len(batch.Masters) != 5 {
		t.Fatalf("expected 5 masters, got %d", len(batch.Masters))
	}
	wantCounts := []int{10, 10, 6, 6, 3}
	wantVariants := []string{"V1", "V1", "V2", "V2", "V2"}
	for i, m := range batch.Masters {
		if m.CaseNo != i+1 || m.ExpectedUnitCount != wantCounts[i] || m.VariantCode != wantVariants[i] {
			t.Fatalf("master %d: got case=%d count=%d variant=%s", i, m.CaseNo, m.ExpectedUnitCount, m.VariantCode)
		}
	}

	// Sequences keep counting across the item boundary.
	if batch.Units[19].VariantCode != "V1" || batch.Units[20].VariantCode != "V2" {
		t.Fatalf("item boundary not at sequence 21: %s then %s", batch.Units[19].VariantCode, batch.Units[20].VariantCode)
	}
	if batch.Units[20].SequenceNo != 21 {
		t.Fatalf("first V2 unit has sequence %d, want 21", batch.Units[20].SequenceNo)
	}
}

func TestGenerateOrderCodes_CodesAreUniqueAndPrefixed(t *testing.T) {
	in := GenerateInput{
		OrderNo:             "ORD-9",
		ManufacturerCode:    "ZX",
		Items:               []GenerateItem{{ProductCode: "P", VariantCode: "V", Qty: 120}},
		BufferPercent:       10,
		DefaultUnitsPerCase: 40,
	}
	batch, err := GenerateOrderCodes(in)
	if err != nil {
		t.Fatalf("GenerateOrderCodes: %v", err)
	}
	seen := map[string]bool{}
	for _, m := range batch.Masters {
		if !strings.HasPrefix(m.Code, "ZX-M") {
			t.Fatalf("master code %q missing manufacturer prefix", m.Code)
		}
		if seen[m.Code] {
			t.Fatalf("duplicate master code %q", m.Code)
		}
		seen[m.Code] = true
	}
	for _, u := range batch.Units {
		if !strings.HasPrefix(u.Code, "ZX-") {
			t.Fatalf("unit code %q missing manufacturer prefix", u.Code)
		}
		if seen[u.Code] {
			t.Fatalf("duplicate code %q", u.Code)
		}
		seen[u.Code] = true
	}
}

func TestGenerateOrderCodes_InputValidation(t *testing.T) {
	base := GenerateInput{
		OrderNo:             "ORD-1",
		ManufacturerCode:    "M",
		Items:               []GenerateItem{{ProductCode: "P", Qty: 10}},
		DefaultUnitsPerCase: 10,
	}

	noOrder := base
	noOrder.OrderNo = "  "
	if _, err := GenerateOrderCodes(noOrder); err == nil {
		t.Fatal("expected error for blank order no")
	}

	noItems := base
	noItems.Items = nil
	if _, err := GenerateOrderCodes(noItems); err == nil {
		t.Fatal("expected error for empty items")
	}

	badQty := base
	badQty.Items = []GenerateItem{{ProductCode: "P", Qty: 0}}
	if _, err := GenerateOrderCodes(badQty); err == nil {
		t.Fatal("expected error for zero qty")
	}

	noCaseSize := base
	noCaseSize.DefaultUnitsPerCase = 0
	if _, err := GenerateOrderCodes(noCaseSize); err == nil {
		t.Fatal("expected error for unresolved case size")
	}

	negBuffer := base
	negBuffer.BufferPercent = -1
	if _, err := GenerateOrderCodes(negBuffer); err == nil {
		t.Fatal("expected error for negative buffer percent")
	}
}
