package hl7

import (
	"errors"
	"strings"
	"testing"
)

var admitMessage = "MSH|^~\\&|ORBIS|KH|WEBEPA|KH|20230912105234||ADT^A01^ADT_A01|12345678|P|2.5||123456789|NE|NE||8859/1\r" +
	"EVN|A01|202309121052||00000_123456789|XXXXX|202309121052\r" +
	"PID|1|1234567|1234567||Musterfrau^Maxi^^^^Dr.^L||19800101|F|||Hauptstr. 1&Hauptstr.&1^^Marburg^^35037^DE^L||06421 123456^PRN^PH~maxi@example.org^NET^Internet|||M\r" +
	"PV1|1|I|STA1^R12^B3^KH|N" + strings.Repeat("|", 6) + "POL" + strings.Repeat("|", 9) + "42424242" + strings.Repeat("|", 25) + "202309121052\r" +
	"ZBE|M1001^ORBIS|202309121052||INSERT\r"

func TestParse_Header(t *testing.T) {
	msg, err := Parse([]byte(admitMessage))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if msg.Type != "ADT" {
		t.Errorf("expected type ADT, got %q", msg.Type)
	}
	if msg.Trigger != "A01" {
		t.Errorf("expected trigger A01, got %q", msg.Trigger)
	}
	if msg.Structure != "ADT_A01" {
		t.Errorf("expected structure ADT_A01, got %q", msg.Structure)
	}
	if msg.ControlID != "12345678" {
		t.Errorf("expected control id 12345678, got %q", msg.ControlID)
	}
	if msg.Version != "2.5" {
		t.Errorf("expected version 2.5, got %q", msg.Version)
	}

	header := msg.Header()
	if got := header.Field(1).Value(); got != "|" {
		t.Errorf("expected MSH-1 '|', got %q", got)
	}
	if got := header.Field(2).Value(); got != "^~\\&" {
		t.Errorf("expected MSH-2 encoding characters, got %q", got)
	}
	if got := header.Field(3).Value(); got != "ORBIS" {
		t.Errorf("expected MSH-3 ORBIS, got %q", got)
	}
}

func TestParse_SegmentAccess(t *testing.T) {
	msg, err := Parse([]byte(admitMessage))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pid := msg.Segment("PID", 0)
	if !pid.Present() {
		t.Fatal("expected PID segment")
	}
	if got := pid.Field(2).Value(); got != "1234567" {
		t.Errorf("expected PID-2 1234567, got %q", got)
	}
	if got := pid.Field(5).Component(2).Value(); got != "Maxi" {
		t.Errorf("expected given name Maxi, got %q", got)
	}

	street := pid.Field(11).Component(1)
	if got := street.SubComponent(2).Value(); got != "Hauptstr." {
		t.Errorf("expected street name sub-component, got %q", got)
	}
	if got := len(street.SubComponents()); got != 3 {
		t.Errorf("expected 3 sub-components, got %d", got)
	}

	telecom := pid.Field(13).Repetitions()
	if len(telecom) != 2 {
		t.Fatalf("expected 2 telecom repetitions, got %d", len(telecom))
	}
	if got := telecom[1].Component(1).Value(); got != "maxi@example.org" {
		t.Errorf("expected email in second repetition, got %q", got)
	}

	pv1 := msg.Segment("PV1", 0)
	if got := pv1.Field(19).Value(); got != "42424242" {
		t.Errorf("expected visit number 42424242, got %q", got)
	}
}

func TestParse_AbsentVersusEmpty(t *testing.T) {
	msg, err := Parse([]byte(admitMessage))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pid := msg.Segment("PID", 0)
	empty := pid.Field(4)
	if !empty.Present() || !empty.Empty() {
		t.Errorf("expected PID-4 present and empty, got present=%v empty=%v", empty.Present(), empty.Empty())
	}
	absent := pid.Field(40)
	if absent.Present() {
		t.Error("expected PID-40 to be absent")
	}
	if got := absent.Component(3).SubComponent(2).Value(); got != "" {
		t.Errorf("expected empty value for absent path, got %q", got)
	}

	missing := msg.Segment("MRG", 0)
	if missing.Present() {
		t.Error("expected MRG to be absent")
	}
	if got := missing.Field(1).Value(); got != "" {
		t.Errorf("expected empty value from absent segment, got %q", got)
	}
	if msg.Has("MRG") {
		t.Error("expected Has(MRG) to be false")
	}
}

func TestParse_NullValue(t *testing.T) {
	raw := "MSH|^~\\&|A|B|C|D|20230101||ADT^A08|1|P|2.5\rPID|1|\"\"|123\r"
	msg, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f := msg.Segment("PID", 0).Field(2)
	if !f.IsNull() {
		t.Error("expected PID-2 to be the HL7 null")
	}
	if f.Value() != "" {
		t.Errorf("expected null to read as empty, got %q", f.Value())
	}
}

func TestParse_CustomDelimiters(t *testing.T) {
	raw := "MSH#$*@%#SND#FAC#RCV#FAC#20230101##ADT$A03#99#P#2.5\r" +
		"PID#1#P-1##Doe$John*Doe$Johnny#\r" +
		"PV1#1#I#ST@1$R2\r"

	msg, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	d := msg.Delimiters
	if d.Field != '#' || d.Component != '$' || d.Repetition != '*' || d.Escape != '@' || d.SubComponent != '%' {
		t.Fatalf("unexpected delimiters %+v", d)
	}
	if msg.Trigger != "A03" {
		t.Errorf("expected trigger A03, got %q", msg.Trigger)
	}

	pid := msg.Segment("PID", 0)
	if got := pid.Field(2).Value(); got != "P-1" {
		t.Errorf("expected PID-2 P-1, got %q", got)
	}
	names := pid.Field(5).Repetitions()
	if len(names) != 2 {
		t.Fatalf("expected 2 name repetitions, got %d", len(names))
	}
	if got := names[1].Component(2).Value(); got != "Johnny" {
		t.Errorf("expected Johnny, got %q", got)
	}

	// an unterminated escape sequence stays verbatim
	if got := msg.Segment("PV1", 0).Field(3).Component(1).Value(); got != "ST@1" {
		t.Errorf("expected unknown escape to stay verbatim, got %q", got)
	}
}

func TestParse_LineEndings(t *testing.T) {
	for name, sep := range map[string]string{"CR": "\r", "LF": "\n", "CRLF": "\r\n"} {
		t.Run(name, func(t *testing.T) {
			raw := strings.ReplaceAll(admitMessage, "\r", sep)
			msg, err := Parse([]byte(raw))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := len(msg.All()); got != 5 {
				t.Errorf("expected 5 segments, got %d", got)
			}
		})
	}
}

func TestParse_MLLPFrame(t *testing.T) {
	msg, err := Parse(WrapMLLP([]byte(admitMessage)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.ControlID != "12345678" {
		t.Errorf("expected control id 12345678, got %q", msg.ControlID)
	}
}

func TestParse_RepeatingSegments(t *testing.T) {
	raw := admitMessage + "ZBE|M1002^ORBIS|202309131000||UPDATE\r"
	msg, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := msg.Count("ZBE"); got != 2 {
		t.Fatalf("expected 2 ZBE segments, got %d", got)
	}
	second := msg.Segment("ZBE", 1)
	if second.Occurrence != 1 {
		t.Errorf("expected occurrence 1, got %d", second.Occurrence)
	}
	if got := second.Field(1).Value(); got != "M1002" {
		t.Errorf("expected M1002, got %q", got)
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want error
	}{
		{"empty", "", ErrMissingHeader},
		{"no header", "PID|1|123\r", ErrMissingHeader},
		{"header without separator", "MSH", ErrMalformedDelimiters},
		{"three encoding characters", "MSH|^~\\|A|B|C|D|1||ADT^A01|1|P|2.5\r", ErrMalformedDelimiters},
		{"duplicate delimiter", "MSH|^^\\&|A|B|C|D|1||ADT^A01|1|P|2.5\r", ErrMalformedDelimiters},
		{"alphanumeric delimiter", "MSH|^~\\A|A|B|C|D|1||ADT^A01|1|P|2.5\r", ErrMalformedDelimiters},
		{"truncated header", "MSH|^~\\&|A|B\r", ErrTruncatedSegment},
		{"bad segment name", "MSH|^~\\&|A|B|C|D|1||ADT^A01|1|P|2.5\rP1\r", ErrTruncatedSegment},
		{"missing field separator", "MSH|^~\\&|A|B|C|D|1||ADT^A01|1|P|2.5\rPID-1-2\r", ErrTruncatedSegment},
		{"second header", "MSH|^~\\&|A|B|C|D|1||ADT^A01|1|P|2.5\rMSH|^~\\&|A|B|C|D|1||ADT^A01|2|P|2.5\r", ErrDuplicateHeader},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.raw))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
			var perr *ParseError
			if !errors.As(err, &perr) {
				t.Errorf("expected *ParseError, got %T", err)
			}
		})
	}
}

func TestParse_Latin1(t *testing.T) {
	// "Müller" in ISO-8859-1
	raw := []byte("MSH|^~\\&|A|B|C|D|1||ADT^A08|1|P|2.5||||||8859/1\rPID|1|7|||M\xfcller^Hans\r")
	msg, err := Parse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := msg.Segment("PID", 0).Field(5).Value(); got != "Müller" {
		t.Errorf("expected Müller, got %q", got)
	}
}

func TestParse_Latin1WithoutDeclaration(t *testing.T) {
	raw := []byte("MSH|^~\\&|A|B|C|D|1||ADT^A08|1|P|2.5\rPID|1|7|||Gr\xf6\xdfe^Eva\r")
	msg, err := Parse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := msg.Segment("PID", 0).Field(5).Value(); got != "Größe" {
		t.Errorf("expected Größe, got %q", got)
	}
}
