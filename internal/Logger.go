package internal

import "fmt"

// LogLevel represents the severity level of a log message
type LogLevel int

const (
	Info LogLevel = iota
	Warning
	Error
	Debug
)

func (l LogLevel) String() string {
	switch l {
	case Info:
		return "Info"
	case Warning:
		return "Warning"
	case Error:
		return "Error"
	case Debug:
		return "Debug"
	}
	return fmt.Sprintf("LogLevel(%d)", int(l))
}

// Log tags, one per operation family, so operators can grep by subsystem.
const (
	TagDownload = "[gmsv_downloadugc]"
	TagWorkshop = "[gmsv_workshop]"
)

// LogStruct represents a log entry with a level, the subsystem tag and a message
type LogStruct struct {
	LogLevel LogLevel
	Tag      string
	Message  string
}

// String renders the entry the way it appears on a server console.
func (l LogStruct) String() string {
	if l.Tag == "" {
		return l.Message
	}
	return l.Tag + " " + l.Message
}

// LogHandlerFunc defines the function signature for log handlers
type LogHandlerFunc func(sender interface{}, log LogStruct)

// LogHandler is the global event handler for logs. It may be invoked from the
// dedicated worker goroutine, so sinks must be safe for concurrent use.
var LogHandler LogHandlerFunc

func pushLog(sender interface{}, level LogLevel, tag, message string) {
	if LogHandler != nil {
		LogHandler(sender, LogStruct{
			LogLevel: level,
			Tag:      tag,
			Message:  message,
		})
	}
}

// PushLogDebug sends a debug log message
func PushLogDebug(sender interface{}, tag, message string) {
	pushLog(sender, Debug, tag, message)
}

// PushLogInfo sends an info log message
func PushLogInfo(sender interface{}, tag, message string) {
	pushLog(sender, Info, tag, message)
}

// PushLogWarning sends a warning log message
func PushLogWarning(sender interface{}, tag, message string) {
	pushLog(sender, Warning, tag, message)
}

// PushLogError sends an error log message
func PushLogError(sender interface{}, tag, message string) {
	pushLog(sender, Error, tag, message)
}
