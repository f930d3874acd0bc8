package gps

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	nmea "github.com/adrianmo/go-nmea"
)

// DecodeErrorKind classifies why a candidate sentence was discarded.
type DecodeErrorKind int

const (
	ChecksumMismatch DecodeErrorKind = iota + 1
	MalformedSentence
	UnknownSentenceType
)

func (k DecodeErrorKind) String() string {
	switch k {
	case ChecksumMismatch:
		return "checksum_mismatch"
	case MalformedSentence:
		return "malformed"
	case UnknownSentenceType:
		return "unknown_type"
	default:
		return "unknown"
	}
}

// DecodeError is returned by parseSentence. The decoder never propagates it;
// a rejected sentence simply leaves the fix store untouched.
type DecodeError struct {
	Kind   DecodeErrorKind
	Detail string
}

func (e *DecodeError) Error() string {
	if e.Detail == "" {
		return "nmea: " + e.Kind.String()
	}
	return "nmea: " + e.Kind.String() + ": " + e.Detail
}

// Is matches any *DecodeError of the same kind, so callers can use the
// sentinel values with errors.Is.
func (e *DecodeError) Is(target error) bool {
	t, ok := target.(*DecodeError)
	return ok && t.Kind == e.Kind
}

var (
	ErrChecksumMismatch    = &DecodeError{Kind: ChecksumMismatch}
	ErrMalformedSentence   = &DecodeError{Kind: MalformedSentence}
	ErrUnknownSentenceType = &DecodeError{Kind: UnknownSentenceType}
)

func malformed(format string, args ...any) error {
	return &DecodeError{Kind: MalformedSentence, Detail: fmt.Sprintf(format, args...)}
}

// Sentence families understood by the decoder.
const (
	TypeRMC = nmea.TypeRMC
	TypeGGA = nmea.TypeGGA
	TypeGSA = nmea.TypeGSA
	TypeGSV = nmea.TypeGSV
)

// checksumWindow bounds how far from the end of a sentence the '*' may sit.
const checksumWindow = 5

type sentence struct {
	// Raw is "$...*hh" without the line terminator. It stays intact so the
	// checksum can be re-verified and the sentence logged.
	Raw    string
	Talker string
	Type   string
	// Fields is the comma-separated payload; Fields[0] is talker+type.
	Fields []string
}

// field returns Fields[i] trimmed, or "" when the sentence is too short.
func (s sentence) field(i int) string {
	if i < 0 || i >= len(s.Fields) {
		return ""
	}
	return strings.TrimSpace(s.Fields[i])
}

// parseSentence validates one line (marker, terminator, checksum) and splits
// it into fields. The line must still carry its "\n" (optionally preceded by
// "\r"); a line without one was cut off mid-transfer.
func parseSentence(line []byte) (sentence, error) {
	if !bytes.HasSuffix(line, []byte{'\n'}) {
		return sentence{}, malformed("missing terminator")
	}
	line = bytes.TrimSuffix(line, []byte{'\n'})
	line = bytes.TrimSuffix(line, []byte{'\r'})
	if len(line) == 0 || line[0] != '$' {
		return sentence{}, malformed("missing '$'")
	}

	star := bytes.LastIndexByte(line, '*')
	if star == -1 || len(line)-star > checksumWindow {
		return sentence{}, malformed("missing checksum")
	}
	ck := line[star+1:]
	if len(ck) < 2 {
		return sentence{}, malformed("short checksum")
	}
	want, err := strconv.ParseUint(string(ck[:2]), 16, 8)
	if err != nil {
		return sentence{}, malformed("bad checksum %q", ck[:2])
	}

	body := string(line[1:star])
	got, _ := strconv.ParseUint(nmea.Checksum(body), 16, 8)
	if got != want {
		return sentence{}, &DecodeError{Kind: ChecksumMismatch, Detail: fmt.Sprintf("calculated %02X want %02X", got, want)}
	}

	fields := strings.Split(body, ",")
	head := fields[0]
	if len(head) < 5 {
		return sentence{}, malformed("short type %q", head)
	}
	s := sentence{
		Raw:    string(line[:star+3]),
		Talker: head[:len(head)-3],
		Type:   strings.ToUpper(head[len(head)-3:]),
		Fields: fields,
	}
	switch s.Type {
	case TypeRMC, TypeGGA, TypeGSA, TypeGSV:
		return s, nil
	default:
		return s, &DecodeError{Kind: UnknownSentenceType, Detail: head}
	}
}

// ValidateSentence checks framing and checksum of one terminated line and
// returns the body between '$' and '*'. Sentence types the decoder does not
// handle still validate; err is then ErrUnknownSentenceType.
func ValidateSentence(line []byte) (string, error) {
	s, err := parseSentence(line)
	if s.Raw == "" {
		return "", err
	}
	return s.Raw[1:strings.LastIndexByte(s.Raw, '*')], err
}

// FrameCommand wraps a command body in "$<body>*<checksum>\r\n". A leading '$'
// or trailing checksum on body is discarded and recomputed.
func FrameCommand(body string) []byte {
	body = strings.TrimSpace(body)
	body = strings.TrimPrefix(body, "$")
	if i := strings.IndexByte(body, '*'); i >= 0 {
		body = body[:i]
	}
	return []byte("$" + body + "*" + nmea.Checksum(body) + "\r\n")
}

// LC76G PAIR command bodies.

// FixIntervalCommand sets the position fix interval in milliseconds.
func FixIntervalCommand(ms int) string {
	return fmt.Sprintf("PAIR050,%d", ms)
}

var outputRateIDs = map[string]int{
	"GGA": 0,
	"GLL": 1,
	"GSA": 2,
	"GSV": 3,
	"RMC": 4,
	"VTG": 5,
}

// OutputRateCommand enables a sentence type every rate fixes; rate 0 disables
// it.
func OutputRateCommand(sentenceType string, rate int) (string, error) {
	id, ok := outputRateIDs[strings.ToUpper(sentenceType)]
	if !ok {
		return "", fmt.Errorf("gps: no output rate id for %q", sentenceType)
	}
	if rate < 0 || rate > 20 {
		return "", fmt.Errorf("gps: output rate %d out of range 0-20", rate)
	}
	return fmt.Sprintf("PAIR062,%d,%d", id, rate), nil
}

func HotStartCommand() string  { return "PAIR004" }
func WarmStartCommand() string { return "PAIR005" }
func ColdStartCommand() string { return "PAIR006" }
