package at

const (
	// Terminal Control
	CRLF   = "\r\n"
	Prompt = "> "
	CtrlZ  = "\x1a"

	// Response Codes
	OK         = "OK"
	ERROR      = "ERROR"
	NoCarrier  = "NO CARRIER"
	NoDialtone = "NO DIALTONE"
	Busy       = "BUSY"
	NoAnswer   = "NO ANSWER"
	CmeError   = "+CME ERROR:"
	CmsError   = "+CMS ERROR:"

	// URCs (Unsolicited Result Codes)
	UrcNewMsg         = "+CMTI:"
	UrcMessageReport  = "+CDSI:"
	UrcSignalStrength = "+CSQ:"
	UrcCall           = "RING"

	// NewMessagePrefix is the complete notification prefix for a message
	// stored on the SIM. The storage index follows as a single byte.
	NewMessagePrefix = `+CMTI: "SM",`

	// Data response prefixes
	RespSimStatus = "+CPIN:"
	RespClock     = "+CCLK:"
	RespReadMsg   = "+CMGR:"
	RespSentMsg   = "+CMGS:"
	RespLocalTime = "+CLTS:"

	// SIM states
	SimReady = "READY"
	SimPin   = "SIM PIN"
)

// Commands issued by the controller.
const (
	CmdAt             = "AT"
	CmdEchoOff        = "ATE0"
	CmdSetTextMode    = "AT+CMGF=1"
	CmdNewMsgIndicate = "AT+CNMI=1,1,0,0,0"
	CmdClass0Storage  = "AT+SCLASS0=1"
	CmdGSMCharset     = "AT+CSCS=\"GSM\""
	CmdSimStatus      = "AT+CPIN?"
	CmdLocalTime      = "AT+CLTS?"
	CmdLocalTimeOn    = "AT+CLTS=1"
	CmdSaveProfile    = "AT&W"
	CmdRadioOff       = "AT+CFUN=0"
	CmdRadioOn        = "AT+CFUN=1"
	CmdDeleteAll      = "AT+CMGD=1,4"
	CmdDeleteMsg      = "AT+CMGD="
	CmdSignalQuality  = "AT+CSQ"
	CmdClock          = "AT+CCLK?"
	CmdReadMsg        = "AT+CMGR="
	CmdSendMsg        = "AT+CMGS="
)

type ResponseType int

const (
	TypeFinal  ResponseType = iota // OK, ERROR
	TypeURC                        // Asynchronous notifications
	TypeData                       // Intermediate command output (+CSQ: ...)
	TypePrompt                     // SMS input prompt
)
