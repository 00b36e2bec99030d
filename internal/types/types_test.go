package types

import "testing"

func TestNewTable(t *testing.T) {
	tests := []struct {
		op   Op
		want Op
	}{
		{OpDetect, OpDetect},
		{OpRegister, OpRegister},
		{OpIdentify, OpIdentify},
	}

	for _, tt := range tests {
		t.Run(tt.op.String(), func(t *testing.T) {
			tbl := NewTable(tt.op)
			if tbl == nil {
				t.Fatalf("NewTable(%v) returned nil", tt.op)
			}
			if tbl.Op() != tt.want {
				t.Errorf("Op() = %v, want %v", tbl.Op(), tt.want)
			}
			if tbl.Len() != 0 {
				t.Errorf("new table should be empty, got %d", tbl.Len())
			}
		})
	}

	if NewTable(OpTerminate) != nil {
		t.Error("terminate carries no table")
	}
}

func TestParseOp(t *testing.T) {
	for _, op := range []Op{OpDetect, OpRegister, OpIdentify} {
		got, err := ParseOp(op.String())
		if err != nil || got != op {
			t.Errorf("ParseOp(%q) = %v, %v", op.String(), got, err)
		}
	}
	if _, err := ParseOp("terminate"); err == nil {
		t.Error("terminate is not a parseable engine operation")
	}
}

func TestIdentifyResultMatched(t *testing.T) {
	if (IdentifyResult{}).Matched() {
		t.Error("empty result should not be matched")
	}
	if !(IdentifyResult{PersonID: "p1", Confidence: 0.9}).Matched() {
		t.Error("expected match")
	}
}
