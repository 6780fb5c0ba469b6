package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"i4.energy/across/fieldctl/irrigation"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of a running controller",
	Long: `Fetch the engine snapshot from a running controller (see --server)
and print the active fields, faults, timers and valve schedules.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print the raw JSON snapshot")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	config, err := loadConfig(cmd.Flags())
	if err != nil {
		return err
	}

	status, err := NewClient(config.ServerURL).Status(cmd.Context())
	if err != nil {
		return err
	}

	if statusJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	}
	fmt.Println(renderStatus(status))
	return nil
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			Background(lipgloss.Color("235")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("12")).
			Bold(true)

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)
)

func renderStatus(status irrigation.Status) string {
	var s strings.Builder

	s.WriteString(titleStyle.Render("FIELDCTL"))
	s.WriteString(" ")
	updated := "never"
	if !status.Updated.IsZero() {
		updated = status.Updated.Format("02/01/2006 15:04:05")
	}
	s.WriteString(headerStyle.Render("| updated " + updated))
	s.WriteString("\n")

	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		boxStyle.Render(renderEngine(status)),
		" ",
		boxStyle.Render(renderFaults(status.Faults)),
	))
	s.WriteString("\n")
	s.WriteString(boxStyle.Render(renderValves(status.Valves, status.Active)))
	return s.String()
}

func row(label, value string) string {
	return labelStyle.Render(fmt.Sprintf("%-12s", label)) + " " + valueStyle.Render(value)
}

func onOff(on bool) string {
	if on {
		return "ON"
	}
	return "off"
}

func renderEngine(status irrigation.Status) string {
	active := "none"
	if len(status.Active) > 0 {
		fields := make([]string, len(status.Active))
		for i, f := range status.Active {
			fields[i] = fmt.Sprintf("%02d", f)
		}
		active = strings.Join(fields, " ")
	}

	countdown := "-"
	if status.Timers.Armed {
		countdown = fmt.Sprintf("%d min", status.Timers.Countdown)
	}

	injectors := make([]string, len(status.Timers.Injectors))
	for i, mode := range status.Timers.Injectors {
		injectors[i] = mode.String()
	}
	if !status.Timers.InjectorsEnabled {
		injectors = []string{"disabled"}
	}

	lines := []string{
		row("Motor", onOff(status.Motor)),
		row("Active", active),
		row("Countdown", countdown),
		row("Filtration", status.Timers.Filtration),
		row("Fertigation", onOff(status.Timers.Fertigation)),
		row("Injectors", strings.Join(injectors, " ")),
		row("Ticks", fmt.Sprint(status.Timers.Ticks)),
	}
	return strings.Join(lines, "\n")
}

func renderFaults(f irrigation.Faults) string {
	faults := []struct {
		name string
		set  bool
	}{
		{"Phase failure", f.PhaseFailure},
		{"Low current", f.LowPhaseCurrent},
		{"Dry run", f.DryRun},
		{"Sensor", f.SensorFailure},
		{"RTC battery", f.RTCBatteryLow},
	}

	lines := []string{headerStyle.Render("Faults")}
	for _, fault := range faults {
		state := valueStyle.Render("ok")
		if fault.set {
			state = errorStyle.Render("FAULT")
		}
		lines = append(lines, labelStyle.Render(fmt.Sprintf("%-14s", fault.name))+" "+state)
	}
	return strings.Join(lines, "\n")
}

func renderValves(valves []irrigation.ValveStatus, active []int) string {
	if len(valves) == 0 {
		return headerStyle.Render("No field configured")
	}

	lines := []string{headerStyle.Render("Field  On  Off  Dry  Wet  Start  Due         Fert")}
	for _, v := range valves {
		fert := "-"
		if v.Fertigation.Enabled {
			fert = fmt.Sprintf("%d+%d x%d", v.Fertigation.Delay, v.Fertigation.OnPeriod, v.Fertigation.Iterations)
		}
		line := fmt.Sprintf("%02d    %3d  %3d  %3d  %3d  %02d:%02d  %s  %s",
			v.Field, v.OnPeriod, v.OffPeriod, v.DryValue, v.WetValue,
			v.MotorOn.Hour, v.MotorOn.Minute, v.Due, fert)
		if slices.Contains(active, v.Field) {
			lines = append(lines, valueStyle.Render(line))
		} else {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}
