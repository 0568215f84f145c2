package schema

import (
	"testing"
	"time"
)

func TestTypeValidation(t *testing.T) {
	tests := []struct {
		dataType DataType
		valid    bool
	}{
		{TypeInteger, true},
		{TypeInt, true},
		{TypeBigint, true},
		{TypeReal, true},
		{TypeDecimal, true},
		{TypeText, true},
		{TypeCategory, true},
		{TypeBoolean, true},
		{TypeDate, true},
		{TypeTimestamp, true},
		{DataType("INVALID"), false},
	}

	for _, tt := range tests {
		if got := IsValidType(tt.dataType); got != tt.valid {
			t.Errorf("IsValidType(%s) = %v, want %v", tt.dataType, got, tt.valid)
		}
	}
}

func TestTypeNormalization(t *testing.T) {
	tests := []struct {
		input    DataType
		expected DataType
	}{
		{TypeInt, TypeInteger},
		{TypeInteger, TypeInteger},
		{TypeFloat, TypeReal},
		{TypeDouble, TypeReal},
		{TypeVarchar, TypeText},
		{TypeBool, TypeBoolean},
	}

	for _, tt := range tests {
		if got := NormalizeType(tt.input); got != tt.expected {
			t.Errorf("NormalizeType(%s) = %s, want %s", tt.input, got, tt.expected)
		}
	}
}

func TestConverterRoundTrip(t *testing.T) {
	converter := NewConverter()
	ts := time.Date(2024, 1, 1, 8, 0, 0, 500, time.UTC)

	tests := []struct {
		name  string
		value any
		typ   DataType
	}{
		{"integer", int64(12345), TypeInteger},
		{"real", 3.25, TypeReal},
		{"text with separator", "a|b\\c", TypeText},
		{"boolean", true, TypeBoolean},
		{"timestamp", ts, TypeTimestamp},
		{"blob", []byte{0, 1, 2}, TypeBlob},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tv, err := converter.FromValue(tt.value, tt.typ)
			if err != nil {
				t.Fatalf("FromValue failed: %v", err)
			}
			raw := converter.FormatValue(tv)

			back, err := converter.ParseValue(raw, FieldDef{Name: tt.name, Type: tt.typ, Nullable: true})
			if err != nil {
				t.Fatalf("ParseValue(%q) failed: %v", raw, err)
			}
			got := back.Value()
			if b, ok := tt.value.([]byte); ok {
				if string(got.([]byte)) != string(b) {
					t.Errorf("blob mismatch: %v", got)
				}
				return
			}
			if gt, ok := got.(time.Time); ok {
				if !gt.Equal(tt.value.(time.Time)) {
					t.Errorf("time mismatch: %v", gt)
				}
				return
			}
			if got != tt.value {
				t.Errorf("round trip: expected %v, got %v", tt.value, got)
			}
		})
	}
}

func TestParseValue_EmptyIsNull(t *testing.T) {
	converter := NewConverter()

	tv, err := converter.ParseValue("", FieldDef{Name: "note", Type: TypeText, Nullable: true})
	if err != nil {
		t.Fatalf("ParseValue failed: %v", err)
	}
	if !tv.IsNull || tv.Value() != nil {
		t.Error("empty text in backup files must be NULL")
	}

	if _, err := converter.ParseValue("", FieldDef{Name: "id", Type: TypeInteger}); err == nil {
		t.Error("expected error for NULL in non-nullable field")
	}
}

func TestCoerce(t *testing.T) {
	tests := []struct {
		name    string
		value   any
		typ     DataType
		want    any
		wantErr bool
	}{
		{"int from string", " 42 ", TypeInteger, int64(42), false},
		{"int from integral float", 42.0, TypeInteger, int64(42), false},
		{"int from fractional float", 42.5, TypeInteger, nil, true},
		{"float from string", "1.5", TypeReal, 1.5, false},
		{"empty string is null", "", TypeReal, nil, false},
		{"empty text is null", "  ", TypeText, nil, false},
		{"text from int", int64(7), TypeText, "7", false},
		{"bool from OK", "OK", TypeBoolean, true, false},
		{"bool from ng", "ng", TypeBoolean, false, false},
		{"bool from int", int64(1), TypeBoolean, true, false},
		{"bool invalid", "maybe", TypeBoolean, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Coerce(tt.value, tt.typ)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Coerce error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("Coerce(%v, %s) = %v (%T), want %v", tt.value, tt.typ, got, got, tt.want)
			}
		})
	}
}

func TestCoerce_TimeFormats(t *testing.T) {
	want := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	inputs := []any{
		"2024-01-01T08:00:00Z",
		"2024-01-01T11:00:00+03:00",
		"2024-01-01 08:00:00",
		"2024-01-01 08:00:00.000000000",
		"2024/01/01 08:00:00",
		want.In(time.FixedZone("X", 3600)),
	}

	for _, in := range inputs {
		got, err := Coerce(in, TypeTimestamp)
		if err != nil {
			t.Errorf("Coerce(%v) failed: %v", in, err)
			continue
		}
		if !got.(time.Time).Equal(want) {
			t.Errorf("Coerce(%v) = %v", in, got)
		}
	}
}

func TestInvalidForCast(t *testing.T) {
	tests := []struct {
		name   string
		values []any
		target DataType
		bad    int
	}{
		{"integers", []any{"1", "-2", int64(3), nil}, TypeInteger, 0},
		{"integer overflow", []any{"1", "9999999999"}, TypeInteger, 1},
		{"bigint accepts large", []any{"9999999999"}, TypeBigint, 0},
		{"reals", []any{"1.5", "2", ".5", "1e3", "abc"}, TypeReal, 1},
		{"booleans", []any{"true", "0", "T", "yes"}, TypeBoolean, 1},
		{"timestamps", []any{"2024-01-01", "not a date"}, TypeTimestamp, 1},
		{"text accepts all", []any{"x", int64(1)}, TypeText, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bad := InvalidForCast(tt.values, tt.target)
			if len(bad) != tt.bad {
				t.Errorf("expected %d invalid values, got %v", tt.bad, bad)
			}
		})
	}
}
