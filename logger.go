package squall

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"runtime"
	"strconv"
	"sync"
	"text/template"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is used to log information generated in the runtime.
type Logger struct {
	s *Squall

	template   *template.Template
	bufferPool *sync.Pool
	mutex      *sync.Mutex
	levels     []string

	// Output is the destination of the log lines. It defaults to the
	// standard output, or to a rotating file when the server's LogFile is
	// set.
	Output io.Writer
}

// loggerLevel is the level of the `Logger`.
type loggerLevel uint8

// logger levels
const (
	lvlDebug loggerLevel = iota
	lvlInfo
	lvlWarn
	lvlError
)

// newLogger returns a pointer of a new instance of the `Logger`.
func newLogger(s *Squall) *Logger {
	return &Logger{
		s: s,
		bufferPool: &sync.Pool{
			New: func() interface{} {
				return bytes.NewBuffer(make([]byte, 0, 256))
			},
		},
		mutex: &sync.Mutex{},
		levels: []string{
			"DEBUG",
			"INFO",
			"WARN",
			"ERROR",
		},
	}
}

// Debug prints the DEBUG level log info with the provided i.
func (l *Logger) Debug(i ...interface{}) {
	l.log(lvlDebug, "", i...)
}

// Debugf prints the DEBUG level log info in the format with the args.
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.log(lvlDebug, format, args...)
}

// Info prints the INFO level log info with the provided i.
func (l *Logger) Info(i ...interface{}) {
	l.log(lvlInfo, "", i...)
}

// Infof prints the INFO level log info in the format with the args.
func (l *Logger) Infof(format string, args ...interface{}) {
	l.log(lvlInfo, format, args...)
}

// Warn prints the WARN level log info with the provided i.
func (l *Logger) Warn(i ...interface{}) {
	l.log(lvlWarn, "", i...)
}

// Warnf prints the WARN level log info in the format with the args.
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.log(lvlWarn, format, args...)
}

// Error prints the ERROR level log info with the provided i.
func (l *Logger) Error(i ...interface{}) {
	l.log(lvlError, "", i...)
}

// Errorf prints the ERROR level log info in the format with the args.
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.log(lvlError, format, args...)
}

// log prints the lvl level log info in the format with the args.
func (l *Logger) log(lvl loggerLevel, format string, args ...interface{}) {
	if !l.s.LoggerEnabled {
		return
	}

	if l.template == nil {
		l.template = template.Must(
			template.New("logger").Parse(l.s.LoggerFormat),
		)
	}

	if l.Output == nil {
		if l.s.LogFile != "" {
			l.Output = &lumberjack.Logger{
				Filename:   l.s.LogFile,
				MaxSize:    100,
				MaxBackups: 3,
				MaxAge:     28,
			}
		} else {
			l.Output = os.Stdout
		}
	}

	message := ""
	if format == "" {
		message = fmt.Sprint(args...)
	} else {
		message = fmt.Sprintf(format, args...)
	}

	_, file, line, _ := runtime.Caller(2)

	data := map[string]interface{}{
		"app_name":     l.s.AppName,
		"time_rfc3339": time.Now().Format(time.RFC3339),
		"level":        l.levels[lvl],
		"short_file":   path.Base(file),
		"long_file":    file,
		"line":         strconv.Itoa(line),
	}

	l.mutex.Lock()
	defer l.mutex.Unlock()

	buf := l.bufferPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		l.bufferPool.Put(buf)
	}()

	if err := l.template.Execute(buf, data); err != nil {
		return
	}

	s := buf.String()
	if i := buf.Len() - 1; i >= 0 && s[i] == '}' {
		// JSON header
		buf.Truncate(i)
		buf.WriteByte(',')
		buf.WriteString(`"message":`)
		b, _ := json.Marshal(message)
		buf.Write(b)
		buf.WriteString("}")
	} else {
		// Text header
		buf.WriteByte(' ')
		buf.WriteString(message)
	}

	buf.WriteByte('\n')
	l.Output.Write(buf.Bytes())
}
