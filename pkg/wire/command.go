package wire

// ModuleID addresses a firmware module.
type ModuleID uint8

// Firmware modules used by the bridge.
const (
	ModuleCameraTele ModuleID = 1
	ModuleCameraWide ModuleID = 2
	ModuleMotor      ModuleID = 6
	ModuleFocus      ModuleID = 8
	ModuleAstro      ModuleID = 11
	ModuleSystem     ModuleID = 13
	ModuleNotify     ModuleID = 15
)

// CommandID identifies a command within a module.
type CommandID uint16

// Tele camera commands.
const (
	CmdCameraTeleOpen            CommandID = 10000
	CmdCameraTeleClose           CommandID = 10001
	CmdCameraTeleSetExpMode      CommandID = 10015
	CmdCameraTeleSetExp          CommandID = 10016
	CmdCameraTeleSetGainMode     CommandID = 10017
	CmdCameraTeleSetGain         CommandID = 10018
	CmdCameraTeleSetIRCut        CommandID = 10032
	CmdCameraTeleSetFeatureParam CommandID = 10036
	CmdCameraTeleGetWorkingState CommandID = 10039
	CmdCameraTelePhotoRaw        CommandID = 10042
)

// Wide camera commands.
const (
	CmdCameraWideOpen  CommandID = 12000
	CmdCameraWideClose CommandID = 12001
)

// Motor commands.
const (
	CmdMotorRunTo         CommandID = 14000
	CmdMotorJoystick      CommandID = 14006
	CmdMotorJoystickStop  CommandID = 14007
	CmdMotorServiceStatus CommandID = 14010
)

// Focus commands.
const (
	CmdFocusSingleStep    CommandID = 15001
	CmdFocusStartContinu  CommandID = 15002
	CmdFocusStopContinu   CommandID = 15003
	CmdFocusAutoFocus     CommandID = 15004
	CmdFocusStopAutoFocus CommandID = 15005
)

// Astro commands.
const (
	CmdAstroStartGotoDSO     CommandID = 11002
	CmdAstroStopGoto         CommandID = 11004
	CmdAstroStartCaptureRaw  CommandID = 11005
	CmdAstroStopCaptureRaw   CommandID = 11006
	CmdAstroCheckDarkLibrary CommandID = 11007
	CmdAstroGoLive           CommandID = 11010
	CmdAstroStartTracking    CommandID = 11012
	CmdAstroStopTracking     CommandID = 11013
)

// System commands.
const (
	CmdSystemSetTime       CommandID = 13000
	CmdSystemSetTimezone   CommandID = 13001
	CmdSystemSetMasterLock CommandID = 13004
)

// Notification commands (inbound only, module = ModuleNotify).
const (
	CmdNotifyTemperature   CommandID = 15045
	CmdNotifyFocus         CommandID = 15257
	CmdNotifyHostSlaveMode CommandID = 15230
	CmdNotifyTeleSetParam  CommandID = 15232
	CmdNotifyGotoState     CommandID = 15211
	CmdNotifyTrackResult   CommandID = 15214
	CmdNotifyCaptureEnd    CommandID = 15250
)
