package at

const (
	// Terminal Control
	CRLF   = "\r\n"
	Prompt = "> "
	CtrlZ  = "\x1a"
	Esc    = "\x1b"

	// PromptToken is the SMS input prompt once the line has been trimmed.
	PromptToken = ">"

	// Response Codes
	OK    = "OK"
	ERROR = "ERROR"
	FAIL  = "FAIL"

	CmeError = "+CME ERROR:"
	CmsError = "+CMS ERROR:"

	// URCs (Unsolicited Result Codes)
	UrcNewMsg     = "+CMTI:"
	UrcMsgDeliver = "+CMT:"
	UrcCall       = "RING"
)

// Initialization sequence
const (
	CmdAt         = "AT"
	CmdEchoOff    = "ATE0"
	CmdTextMode   = "AT+CMGF=1"
	CmdNotifyMode = "AT+CNMI=1,2,0,0,0"
	CmdCharsetGSM = `AT+CSCS="GSM"`
)

// Diagnostics probes
const (
	CmdSimStatus     = "AT+CPIN?"
	CmdMessageFormat = "AT+CMGF?"
	CmdRegistration  = "AT+CREG?"
	CmdSignalQuality = "AT+CSQ"
	CmdServiceCenter = "AT+CSCA?"
	CmdOperator      = "AT+COPS?"
)

// CmdSendSMS is the recipient step of a text mode send. It takes the
// recipient address as its only argument.
const CmdSendSMS = `AT+CMGS="%s"`

// PayloadPlaceholder replaces CtrlZ when payloads are written to logs.
const PayloadPlaceholder = "<CTRL-Z>"

type ResponseType int

const (
	TypeFinal  ResponseType = iota // OK, ERROR
	TypeURC                        // Asynchronous notifications
	TypeData                       // Intermediate command output (+CSQ: ...)
	TypePrompt                     // SMS input prompt
)
