package mergeflag

import (
	"errors"
	"testing"
)

func TestCurrentMissingDone(t *testing.T) {
	tests := []struct {
		master     MasterType
		current    Flag
		missing    Flag
		hasMissing bool
		done       Flag
	}{
		{MasterOthers, General, General, false, General},
		{MasterSoftwareWorkshop, General, General, false, General},
		{MasterV2, V2Measurement, V2History, true, V2Measurement | V2History},
		{MasterV2Multi, V2Measurement, V2History, true, V2Measurement | V2History},
		{MasterV2History, V2History, V2Measurement, true, V2Measurement | V2History},
		{MasterV2MultiHistory, V2History, V2Measurement, true, V2Measurement | V2History},
		{MasterEFA, EFAMeasurement, EFAHistory, true, EFAMeasurement | EFAHistory},
		{MasterEFAHistory, EFAHistory, EFAMeasurement, true, EFAMeasurement | EFAHistory},
	}

	for _, tt := range tests {
		t.Run(string(tt.master), func(t *testing.T) {
			current, err := CurrentFlag(tt.master)
			if err != nil {
				t.Fatalf("CurrentFlag failed: %v", err)
			}
			if current != tt.current {
				t.Errorf("CurrentFlag = %d, want %d", current, tt.current)
			}

			missing, ok, err := MissingFlag(tt.master)
			if err != nil {
				t.Fatalf("MissingFlag failed: %v", err)
			}
			if ok != tt.hasMissing || missing != tt.missing {
				t.Errorf("MissingFlag = %d,%v want %d,%v", missing, ok, tt.missing, tt.hasMissing)
			}

			done, err := DoneFlag(tt.master)
			if err != nil {
				t.Fatalf("DoneFlag failed: %v", err)
			}
			if done != tt.done {
				t.Errorf("DoneFlag = %d, want %d", done, tt.done)
			}
		})
	}
}

func TestUnknownMasterType(t *testing.T) {
	if _, err := CurrentFlag("PLC"); !errors.Is(err, ErrUnknownMasterType) {
		t.Errorf("expected ErrUnknownMasterType, got %v", err)
	}
	if _, _, err := MissingFlag("PLC"); !errors.Is(err, ErrUnknownMasterType) {
		t.Errorf("expected ErrUnknownMasterType, got %v", err)
	}
	if _, err := DoneFlag(""); !errors.Is(err, ErrUnknownMasterType) {
		t.Errorf("expected ErrUnknownMasterType, got %v", err)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		flag Flag
		want Role
	}{
		{General, Role{KindGeneral, FamilyGeneral}},
		{V2Measurement, Role{KindMeasurement, FamilyV2}},
		{V2History, Role{KindHistory, FamilyV2}},
		{V2Measurement | V2History, Role{KindDone, FamilyV2}},
		{EFAMeasurement, Role{KindMeasurement, FamilyEFA}},
		{EFAMeasurement | EFAHistory, Role{KindDone, FamilyEFA}},
	}

	for _, tt := range tests {
		got := Classify(tt.flag)
		if got != tt.want {
			t.Errorf("Classify(%d) = %v, want %v", tt.flag, got, tt.want)
		}
		if got.Flag() != tt.flag {
			t.Errorf("Classify(%d).Flag() = %d", tt.flag, got.Flag())
		}
	}
}

func TestFlagOf(t *testing.T) {
	if f, ok := FlagOf(int64(3)); !ok || f != V2Measurement|V2History {
		t.Errorf("FlagOf(int64(3)) = %d,%v", f, ok)
	}
	if _, ok := FlagOf(nil); ok {
		t.Error("NULL merge flag must report ok=false")
	}
}
