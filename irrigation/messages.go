package irrigation

import (
	"errors"

	"i4.energy/across/fieldctl/notify"
)

// Notification texts.
const (
	msgBoot           = "System restarted"
	msgStarted        = "Irrigation started for fields: "
	msgStopped        = "Irrigation stopped for fields: "
	msgMotorOff       = "Motor switched off"
	msgWetSkip        = "Field already wet, irrigation skipped for field no. "
	msgDryRun         = "Dry run detected, irrigation stopped"
	msgLowPhase       = "Low phase current detected, irrigation suspended"
	msgPhaseFailure   = "Phase failure detected, irrigation suspended"
	msgPhaseRestored  = "Power restored, irrigation resumed"
	msgSensorFailure  = "Moisture sensor not responding, sensor checks disabled"
	msgRTCBattery     = "Replace RTC battery"
	msgUnknownCommand = "Command not recognized"

	msgValveConfigured       = "Irrigation configured for field no. "
	msgValveDeleted          = "Irrigation deleted for field no. "
	msgFertigationConfigured = "Fertigation configured for field no. "
	msgFertigationDisabled   = "Fertigation disabled for field no. "
	msgFiltrationConfigured  = "Filtration configured"
	msgFiltrationDisabled    = "Filtration disabled"
	msgInjectorConfigured    = "Injector configured no. "
	msgHold                  = "Irrigation on hold, days: "
	msgValveReport           = "Field no. "
	msgFiltrationReport      = "Filtration settings"
	msgActive                = "Active fields: "
	msgNoActive              = "No field active"
	msgTime                  = "Controller time: "
	msgMoisture              = "Moisture level of field no. "
	msgMotorLoad             = "Motor cut-off currents: "
	msgAdminChanged          = "Admin changed to "
	msgAdminReplaced         = "Admin access transferred to "
	msgUserChanged           = "User changed to "
	msgSecret                = "Factory secret: "
	msgValvesReset           = "All field schedules deleted"
	msgFactoryReset          = "Factory reset complete"
)

// failureText maps a command error to the reply sent to the requester.
func failureText(err error) string {
	switch {
	case errors.Is(err, ErrInvalidField):
		return "Invalid field number"
	case errors.Is(err, ErrInvalidInjector):
		return "Invalid injector number"
	case errors.Is(err, ErrInvalidSetting):
		return "Invalid setting"
	case errors.Is(err, ErrNotConfigured):
		return "Field not configured"
	case errors.Is(err, ErrUnauthorized):
		return "Not authorized"
	case errors.Is(err, ErrBusy):
		return "Irrigation in progress, try later"
	case errors.Is(err, ErrSensorFailure):
		return "Moisture sensor not responding"
	default:
		return "Command failed"
	}
}

func valveReport(field int, v Valve) notify.ValveReport {
	return notify.ValveReport{
		Message:               msgValveReport,
		Field:                 field,
		OnPeriod:              v.OnPeriod,
		OffPeriod:             v.OffPeriod,
		Dry:                   v.DryValue,
		Wet:                   v.WetValue,
		DueDay:                v.Due.Day,
		DueMonth:              v.Due.Month,
		DueYear:               v.Due.Year,
		Hour:                  v.MotorOn.Hour,
		Minute:                v.MotorOn.Minute,
		Fertigation:           v.Fertigation.Enabled,
		FertigationDelay:      v.Fertigation.Delay,
		FertigationOnPeriod:   v.Fertigation.OnPeriod,
		FertigationIterations: v.Fertigation.Iterations,
	}
}
