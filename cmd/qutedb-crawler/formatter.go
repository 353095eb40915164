package main

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

const logTimeFormat = "2006-01-02 15:04:05"

// lineFormatter renders entries as "[time] LEVEL - message key=value ...".
type lineFormatter struct{}

var _ logrus.Formatter = (*lineFormatter)(nil)

var levelNames = map[logrus.Level]string{
	logrus.PanicLevel: "CRITICAL",
	logrus.FatalLevel: "CRITICAL",
	logrus.ErrorLevel: "ERROR",
	logrus.WarnLevel:  "WARNING",
	logrus.InfoLevel:  "INFO",
	logrus.DebugLevel: "DEBUG",
	logrus.TraceLevel: "DEBUG",
}

// Format implements logrus.Formatter.
func (f *lineFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	b := entry.Buffer
	if b == nil {
		b = &bytes.Buffer{}
	}

	fmt.Fprintf(b, "[%s] %s - %s", entry.Time.Format(logTimeFormat), levelNames[entry.Level], entry.Message)

	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	for _, k := range keys {
		value := fmt.Sprint(entry.Data[k])
		if strings.ContainsAny(value, " \t\"=") {
			value = fmt.Sprintf("%q", value)
		}

		fmt.Fprintf(b, " %s=%s", k, value)
	}

	b.WriteByte('\n')

	return b.Bytes(), nil
}
