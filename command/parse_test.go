package command

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"i4.energy/across/fieldctl/irrigation"
)

func TestParse(t *testing.T) {
	tests := []struct {
		text     string
		expected irrigation.Command
	}{
		{
			text: "VALVE 3 45 2 100 700 06:30",
			expected: irrigation.ConfigureValve{
				Field: 3, OnPeriod: 45, OffPeriod: 2, DryValue: 100, WetValue: 700,
				MotorOn: irrigation.TimeOfDay{Hour: 6, Minute: 30},
			},
		},
		{
			text: "valve 12 5 0 0 0 23:59 29/02/28",
			expected: irrigation.ConfigureValve{
				Field: 12, OnPeriod: 5,
				MotorOn: irrigation.TimeOfDay{Hour: 23, Minute: 59},
				Start:   irrigation.Date{Day: 29, Month: 2, Year: 2028},
			},
		},
		{"DELETE 4", irrigation.DeleteValve{Field: 4}},
		{"FERT 3 5 10 2", irrigation.ConfigureFertigation{Field: 3, Delay: 5, OnPeriod: 10, Iterations: 2}},
		{"FERT 3 off", irrigation.DisableFertigation{Field: 3}},
		{"FILTER 5 6 7 2 120", irrigation.ConfigureFiltration{Delay1: 5, Delay2: 6, Delay3: 7, OnTime: 2, Separation: 120}},
		{"FILTER OFF", irrigation.DisableFiltration{}},
		{"INJECT 2 10 20 3", irrigation.ConfigureInjector{Injector: 2, OnPeriod: 10, OffPeriod: 20, Cycles: 3}},
		{"HOLD 01", irrigation.Hold{Days: 1}},
		{"QUERY 7", irrigation.QueryValve{Field: 7}},
		{"Query Filter", irrigation.QueryFiltration{}},
		{"ACTIVE", irrigation.QueryActive{}},
		{"  time  ", irrigation.QueryTime{}},
		{"LOAD", irrigation.QueryMotorLoad{}},
		{"MOIST 2", irrigation.QueryMoisture{Field: 2}},
		{"CALIB 1", irrigation.CalibrateMotor{Field: 1}},
		{"ADMIN 483920", irrigation.ChangeAdmin{Secret: "483920"}},
		{"ADMIN 483920 +919876543210", irrigation.ChangeAdmin{Secret: "483920", Number: "+919876543210"}},
		{"USER 9876543210", irrigation.ChangeUser{Number: "9876543210"}},
		{"SECRET", irrigation.QuerySecret{}},
		{"RESET", irrigation.ResetValves{}},
		{"FACTORY 483920", irrigation.FactoryReset{Secret: "483920"}},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			cmd, err := Parse(tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, cmd)
		})
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		text string
		err  error
	}{
		{"", ErrEmpty},
		{"   ", ErrEmpty},
		{"WATER 3", ErrUnknown},
		{"DELETE", ErrSyntax},
		{"DELETE 3 4", ErrSyntax},
		{"DELETE x", ErrSyntax},
		{"HOLD -1", ErrSyntax},
		{"HOLD 300", ErrSyntax},
		{"VALVE 3 45 2 100 700", ErrSyntax},
		{"VALVE 3 45 2 100 700 24:00", ErrSyntax},
		{"VALVE 3 45 2 100 700 0630", ErrSyntax},
		{"VALVE 3 45 2 100 700 06:30 29/02/2026", ErrSyntax},
		{"VALVE 3 45 2 100 700 06:30 1-1-2026", ErrSyntax},
		{"FERT 3 5 10", ErrSyntax},
		{"FILTER 1 2 3", ErrSyntax},
		{"ACTIVE now", ErrSyntax},
		{"ADMIN", ErrSyntax},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			cmd, err := Parse(tt.text)
			assert.ErrorIs(t, err, tt.err)
			assert.Nil(t, cmd)
		})
	}
}

func TestParseBase64(t *testing.T) {
	encoded := base64.StdEncoding.EncodeToString([]byte("QUERY 2"))

	cmd, err := Parse(encoded)
	require.NoError(t, err)
	assert.Equal(t, irrigation.QueryValve{Field: 2}, cmd)

	_, err = Parse(base64.StdEncoding.EncodeToString([]byte{0x01, 0xff, 0x10}))
	assert.ErrorIs(t, err, ErrUnknown, "binary payloads report the plain text error")
}

func TestKeywords(t *testing.T) {
	for _, k := range Keywords() {
		_, err := Parse(k)
		assert.NotErrorIs(t, err, ErrUnknown, k)
	}
}
