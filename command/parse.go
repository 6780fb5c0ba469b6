// Package command decodes SMS and console text into irrigation commands.
//
// A command is a keyword followed by space separated arguments. Keywords
// are case-insensitive. Times are written hh:mm and dates dd/mm/yyyy or
// dd/mm/yy.
//
//	VALVE <field> <on> <off> <dry> <wet> <hh:mm> [date]
//	DELETE <field>
//	FERT <field> <delay> <on> <iterations> | FERT <field> OFF
//	FILTER <delay1> <delay2> <delay3> <on> <separation> | FILTER OFF
//	INJECT <injector> <on> <off> <cycles>
//	HOLD <days>
//	QUERY <field> | QUERY FILTER
//	ACTIVE, TIME, LOAD, SECRET, RESET
//	MOIST <field>
//	CALIB <field>
//	ADMIN <secret> [number]
//	USER <number>
//	FACTORY <secret>
//
// Handsets that send base64 encoded bodies are accepted as well: a message
// that does not parse as plain text is decoded and parsed again.
package command

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"i4.energy/across/fieldctl/irrigation"
)

type parser func(args []string) (irrigation.Command, error)

var grammar = map[string]parser{
	"VALVE":   parseValve,
	"DELETE":  fieldCommand(func(f int) irrigation.Command { return irrigation.DeleteValve{Field: f} }),
	"FERT":    parseFertigation,
	"FILTER":  parseFiltration,
	"INJECT":  parseInjector,
	"HOLD":    parseHold,
	"QUERY":   parseQuery,
	"ACTIVE":  bare(irrigation.QueryActive{}),
	"TIME":    bare(irrigation.QueryTime{}),
	"LOAD":    bare(irrigation.QueryMotorLoad{}),
	"SECRET":  bare(irrigation.QuerySecret{}),
	"RESET":   bare(irrigation.ResetValves{}),
	"MOIST":   fieldCommand(func(f int) irrigation.Command { return irrigation.QueryMoisture{Field: f} }),
	"CALIB":   fieldCommand(func(f int) irrigation.Command { return irrigation.CalibrateMotor{Field: f} }),
	"ADMIN":   parseAdmin,
	"USER":    parseUser,
	"FACTORY": parseFactoryReset,
}

// Parse decodes text into a command.
func Parse(text string) (irrigation.Command, error) {
	cmd, err := parse(text)
	if err == nil {
		return cmd, nil
	}
	if decoded, ok := decodeBase64(text); ok {
		if cmd, derr := parse(decoded); derr == nil {
			return cmd, nil
		}
	}
	return nil, err
}

// Keywords returns the keywords of the grammar.
func Keywords() []string {
	keys := make([]string, 0, len(grammar))
	for k := range grammar {
		keys = append(keys, k)
	}
	return keys
}

func parse(text string) (irrigation.Command, error) {
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return nil, ErrEmpty
	}
	keyword := strings.ToUpper(tokens[0])
	p, ok := grammar[keyword]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknown, tokens[0])
	}
	cmd, err := p(tokens[1:])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", keyword, err)
	}
	return cmd, nil
}

func decodeBase64(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if text == "" || strings.ContainsAny(text, " \t") {
		return "", false
	}
	raw, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return "", false
	}
	for _, c := range raw {
		if c < 0x20 || c > 0x7e {
			return "", false
		}
	}
	return string(raw), true
}

func bare(cmd irrigation.Command) parser {
	return func(args []string) (irrigation.Command, error) {
		if err := arity(args, 0); err != nil {
			return nil, err
		}
		return cmd, nil
	}
}

func fieldCommand(build func(field int) irrigation.Command) parser {
	return func(args []string) (irrigation.Command, error) {
		if err := arity(args, 1); err != nil {
			return nil, err
		}
		field, err := number(args[0], 8)
		if err != nil {
			return nil, err
		}
		return build(int(field)), nil
	}
}

func parseValve(args []string) (irrigation.Command, error) {
	if len(args) != 6 && len(args) != 7 {
		return nil, fmt.Errorf("%w: want 6 or 7 arguments, got %d", ErrSyntax, len(args))
	}
	var n [5]uint64
	bits := [5]int{8, 16, 8, 16, 16}
	for i := range n {
		v, err := number(args[i], bits[i])
		if err != nil {
			return nil, err
		}
		n[i] = v
	}
	motorOn, err := timeOfDay(args[5])
	if err != nil {
		return nil, err
	}
	cmd := irrigation.ConfigureValve{
		Field:     int(n[0]),
		OnPeriod:  uint16(n[1]),
		OffPeriod: uint8(n[2]),
		DryValue:  uint16(n[3]),
		WetValue:  uint16(n[4]),
		MotorOn:   motorOn,
	}
	if len(args) == 7 {
		if cmd.Start, err = date(args[6]); err != nil {
			return nil, err
		}
	}
	return cmd, nil
}

func parseFertigation(args []string) (irrigation.Command, error) {
	if len(args) == 2 && strings.EqualFold(args[1], "OFF") {
		field, err := number(args[0], 8)
		if err != nil {
			return nil, err
		}
		return irrigation.DisableFertigation{Field: int(field)}, nil
	}
	n, err := numbers(args, 8, 16, 16, 8)
	if err != nil {
		return nil, err
	}
	return irrigation.ConfigureFertigation{
		Field:      int(n[0]),
		Delay:      uint16(n[1]),
		OnPeriod:   uint16(n[2]),
		Iterations: uint8(n[3]),
	}, nil
}

func parseFiltration(args []string) (irrigation.Command, error) {
	if len(args) == 1 && strings.EqualFold(args[0], "OFF") {
		return irrigation.DisableFiltration{}, nil
	}
	n, err := numbers(args, 8, 8, 8, 8, 16)
	if err != nil {
		return nil, err
	}
	return irrigation.ConfigureFiltration{
		Delay1:     uint8(n[0]),
		Delay2:     uint8(n[1]),
		Delay3:     uint8(n[2]),
		OnTime:     uint8(n[3]),
		Separation: uint16(n[4]),
	}, nil
}

func parseInjector(args []string) (irrigation.Command, error) {
	n, err := numbers(args, 8, 16, 16, 8)
	if err != nil {
		return nil, err
	}
	return irrigation.ConfigureInjector{
		Injector:  int(n[0]),
		OnPeriod:  uint16(n[1]),
		OffPeriod: uint16(n[2]),
		Cycles:    uint8(n[3]),
	}, nil
}

func parseHold(args []string) (irrigation.Command, error) {
	n, err := numbers(args, 8)
	if err != nil {
		return nil, err
	}
	return irrigation.Hold{Days: int(n[0])}, nil
}

func parseQuery(args []string) (irrigation.Command, error) {
	if err := arity(args, 1); err != nil {
		return nil, err
	}
	if strings.EqualFold(args[0], "FILTER") {
		return irrigation.QueryFiltration{}, nil
	}
	field, err := number(args[0], 8)
	if err != nil {
		return nil, err
	}
	return irrigation.QueryValve{Field: int(field)}, nil
}

func parseAdmin(args []string) (irrigation.Command, error) {
	if len(args) != 1 && len(args) != 2 {
		return nil, fmt.Errorf("%w: want 1 or 2 arguments, got %d", ErrSyntax, len(args))
	}
	cmd := irrigation.ChangeAdmin{Secret: args[0]}
	if len(args) == 2 {
		cmd.Number = args[1]
	}
	return cmd, nil
}

func parseUser(args []string) (irrigation.Command, error) {
	if err := arity(args, 1); err != nil {
		return nil, err
	}
	return irrigation.ChangeUser{Number: args[0]}, nil
}

func parseFactoryReset(args []string) (irrigation.Command, error) {
	if err := arity(args, 1); err != nil {
		return nil, err
	}
	return irrigation.FactoryReset{Secret: args[0]}, nil
}

func arity(args []string, n int) error {
	if len(args) != n {
		return fmt.Errorf("%w: want %d arguments, got %d", ErrSyntax, n, len(args))
	}
	return nil
}

func numbers(args []string, bits ...int) ([]uint64, error) {
	if err := arity(args, len(bits)); err != nil {
		return nil, err
	}
	out := make([]uint64, len(args))
	for i, arg := range args {
		v, err := number(arg, bits[i])
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func number(s string, bits int) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, bits)
	if err != nil {
		return 0, fmt.Errorf("%w: bad number %q", ErrSyntax, s)
	}
	return v, nil
}

func timeOfDay(s string) (irrigation.TimeOfDay, error) {
	hh, mm, ok := strings.Cut(s, ":")
	if !ok {
		return irrigation.TimeOfDay{}, fmt.Errorf("%w: bad time %q", ErrSyntax, s)
	}
	h, err := number(hh, 8)
	if err != nil {
		return irrigation.TimeOfDay{}, err
	}
	m, err := number(mm, 8)
	if err != nil {
		return irrigation.TimeOfDay{}, err
	}
	t := irrigation.TimeOfDay{Hour: uint8(h), Minute: uint8(m)}
	if !t.Valid() {
		return irrigation.TimeOfDay{}, fmt.Errorf("%w: bad time %q", ErrSyntax, s)
	}
	return t, nil
}

func date(s string) (irrigation.Date, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 3 {
		return irrigation.Date{}, fmt.Errorf("%w: bad date %q", ErrSyntax, s)
	}
	day, err := number(parts[0], 8)
	if err != nil {
		return irrigation.Date{}, err
	}
	month, err := number(parts[1], 8)
	if err != nil {
		return irrigation.Date{}, err
	}
	year, err := number(parts[2], 16)
	if err != nil {
		return irrigation.Date{}, err
	}
	if len(parts[2]) <= 2 {
		year += 2000
	}
	d := irrigation.Date{Day: uint8(day), Month: uint8(month), Year: uint16(year)}
	if !d.Valid() {
		return irrigation.Date{}, fmt.Errorf("%w: bad date %q", ErrSyntax, s)
	}
	return d, nil
}
