package mqtt

import (
	"fmt"
	"strings"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// pahoLogger adapts a Logger to paho's package-level logger interface.
type pahoLogger struct {
	logger Logger
	level  string
}

func (l pahoLogger) Println(v ...any) {
	l.log(strings.TrimSuffix(fmt.Sprintln(v...), "\n"))
}

func (l pahoLogger) Printf(format string, v ...any) {
	l.log(fmt.Sprintf(format, v...))
}

func (l pahoLogger) log(msg string) {
	switch l.level {
	case "error":
		l.logger.Error("paho", "msg", msg)
	case "warn":
		l.logger.Warn("paho", "msg", msg)
	default:
		l.logger.Debug("paho", "msg", msg)
	}
}

// InstallLogger routes paho's internal logging to logger.
// Debug output is only forwarded when debug is true.
func InstallLogger(logger Logger, debug bool) {
	pahomqtt.ERROR = pahoLogger{logger: logger, level: "error"}
	pahomqtt.CRITICAL = pahoLogger{logger: logger, level: "error"}
	pahomqtt.WARN = pahoLogger{logger: logger, level: "warn"}
	if debug {
		pahomqtt.DEBUG = pahoLogger{logger: logger, level: "debug"}
	} else {
		pahomqtt.DEBUG = pahomqtt.NOOPLogger{}
	}
}
