// Package frame implements the wire codec for the simulator's three record
// types (RREQ, RREP, USER): pipe-delimited ASCII fields terminated by
// "\r\n", consumed by the transport one record at a time via a buffered
// reader.
package frame

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/aodvmesh/simnet/core"
)

// Kind identifies the frame's record type.
type Kind string

const (
	KindRREQ Kind = "RREQ"
	KindRREP Kind = "RREP"
	KindUser Kind = "USER"
)

// infLiteral is the wire encoding of core.Inf.
const infLiteral = "999"

// Terminator ends every record.
const Terminator = "\r\n"

var (
	// ErrMalformed is returned for any record that doesn't parse into a
	// known, well-formed frame. Per spec §7 the caller drops and continues.
	ErrMalformed = errors.New("frame: malformed record")
	// ErrPayloadChars is returned when a USER payload contains a
	// disallowed byte ('|' or the terminator sequence).
	ErrPayloadChars = errors.New("frame: payload contains '|' or terminator bytes")
)

// Frame is the decoded form of a wire record. Fields not relevant to Kind
// are zero-valued (e.g. Payload is empty for RREQ/RREP; Coord/Hop/Distance/
// Power are zero for USER).
type Frame struct {
	Kind     Kind
	SeqNo    int
	Origin   string
	Sender   string
	Dest     string
	Coord    core.Coord
	Hop      int
	Distance float64
	Power    float64
	Payload  string
}

// Encode renders f as a wire record, including the "\r\n" terminator.
func (f Frame) Encode() (string, error) {
	switch f.Kind {
	case KindRREQ, KindRREP:
		return fmt.Sprintf("%s|%d|%s|%s|%s|%s|%d|%s|%s|%s",
			f.Kind, f.SeqNo, f.Origin, f.Sender, f.Dest, f.Coord,
			f.Hop, formatDistance(f.Distance), formatPower(f.Power), Terminator), nil
	case KindUser:
		if strings.ContainsAny(f.Payload, "|") || strings.Contains(f.Payload, "\r\n") {
			return "", ErrPayloadChars
		}
		return fmt.Sprintf("USER|%s|%s|%s|%s", f.Origin, f.Dest, f.Payload, Terminator), nil
	default:
		return "", fmt.Errorf("%w: unknown kind %q", ErrMalformed, f.Kind)
	}
}

// Parse decodes a single record into a Frame. A trailing "\r\n" (or a lone
// "\n" or "\r") is trimmed first, so records may be passed with or without
// their terminator.
func Parse(record string) (Frame, error) {
	record = strings.TrimSuffix(record, "\r\n")
	record = strings.TrimSuffix(record, "\n")
	record = strings.TrimSuffix(record, "\r")

	fields := strings.Split(record, "|")
	if len(fields) == 0 {
		return Frame{}, ErrMalformed
	}

	switch Kind(fields[0]) {
	case KindRREQ, KindRREP:
		return parseRoutingFrame(Kind(fields[0]), fields)
	case KindUser:
		return parseUserFrame(fields)
	default:
		return Frame{}, fmt.Errorf("%w: unknown kind %q", ErrMalformed, fields[0])
	}
}

func parseRoutingFrame(kind Kind, fields []string) (Frame, error) {
	// RREQ|seq|origin|sender|dest|x,y|hop|dist|power|
	if len(fields) < 9 {
		return Frame{}, fmt.Errorf("%w: %s wants 9 fields, got %d", ErrMalformed, kind, len(fields))
	}
	seq, err := strconv.Atoi(fields[1])
	if err != nil {
		return Frame{}, fmt.Errorf("%w: seq_no: %v", ErrMalformed, err)
	}
	coord, err := parseCoord(fields[5])
	if err != nil {
		return Frame{}, fmt.Errorf("%w: coord: %v", ErrMalformed, err)
	}
	hop, err := strconv.Atoi(fields[6])
	if err != nil {
		return Frame{}, fmt.Errorf("%w: hop: %v", ErrMalformed, err)
	}
	dist, err := core.ParseFloat(fields[7])
	if err != nil {
		return Frame{}, fmt.Errorf("%w: dist: %v", ErrMalformed, err)
	}
	power, err := parsePower(fields[8])
	if err != nil {
		return Frame{}, fmt.Errorf("%w: power: %v", ErrMalformed, err)
	}
	return Frame{
		Kind: kind, SeqNo: seq, Origin: fields[2], Sender: fields[3], Dest: fields[4],
		Coord: coord, Hop: hop, Distance: dist, Power: power,
	}, nil
}

func parseUserFrame(fields []string) (Frame, error) {
	// USER|origin|dest|payload| (the trailing '|' yields a fifth, empty field)
	if len(fields) < 5 {
		return Frame{}, fmt.Errorf("%w: USER wants 5 fields, got %d", ErrMalformed, len(fields))
	}
	return Frame{
		Kind: KindUser, Origin: fields[1], Dest: fields[2], Payload: fields[3],
	}, nil
}

func parseCoord(s string) (core.Coord, error) {
	parts := strings.SplitN(s, ",", 2)
	if len(parts) != 2 {
		return core.Coord{}, fmt.Errorf("expected \"x,y\", got %q", s)
	}
	x, err := core.ParseFloat(parts[0])
	if err != nil {
		return core.Coord{}, err
	}
	y, err := core.ParseFloat(parts[1])
	if err != nil {
		return core.Coord{}, err
	}
	return core.Coord{X: x, Y: y}, nil
}

func formatDistance(d float64) string {
	return strconv.FormatFloat(d, 'g', -1, 64)
}

func formatPower(p float64) string {
	if math.IsInf(p, 1) {
		return infLiteral
	}
	return strconv.FormatFloat(p, 'g', -1, 64)
}

func parsePower(s string) (float64, error) {
	if s == infLiteral {
		return core.Inf, nil
	}
	return core.ParseFloat(s)
}
