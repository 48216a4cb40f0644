// Package xlog holds the small debug-print helpers shared by the
// transport packages. There is no structured logger here on purpose:
// callers flip Verbose/VerboseVerbose on when they want the chatter.
package xlog

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"4d63.com/tz"
)

var Verbose bool
var VerboseVerbose bool

var printMut sync.Mutex

var gtz *time.Location

func init() {
	loc, err := tz.LoadLocation("UTC")
	if err != nil {
		loc = time.UTC
	}
	gtz = loc
}

const rfc3339NanoNumericTZ0pad = "2006-01-02T15:04:05.000000000-07:00"

func ts() string {
	return time.Now().In(gtz).Format(rfc3339NanoNumericTZ0pad)
}

// VV prints unconditionally, time-stamped with caller file:line. Used
// for warnings and conditions that must be visible regardless of the
// Verbose setting.
func VV(format string, a ...any) {
	tsPrintf(format, a...)
}

// PP prints only when VerboseVerbose is set; used for the chattiest,
// per-package-byte level trace.
func PP(format string, a ...any) {
	if VerboseVerbose {
		tsPrintf(format, a...)
	}
}

// V prints only when Verbose is set.
func V(format string, a ...any) {
	if Verbose {
		tsPrintf(format, a...)
	}
}

func tsPrintf(format string, a ...any) {
	printMut.Lock()
	defer printMut.Unlock()
	fmt.Fprintf(os.Stderr, "%s %s ", fileLine(3), ts())
	fmt.Fprintf(os.Stderr, format+"\n", a...)
}

func fileLine(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "???"
	}
	if i := strings.LastIndexByte(file, '/'); i >= 0 {
		file = file[i+1:]
	}
	return file + ":" + strconv.Itoa(line)
}

// PanicOn panics if err is non-nil. Reserved for conditions that
// indicate a programming error rather than an environmental failure.
func PanicOn(err error) {
	if err != nil {
		panic(err)
	}
}
