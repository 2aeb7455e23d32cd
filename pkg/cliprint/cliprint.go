// Package cliprint renders CLI-facing banners and error messages.
// It replaces the gnames/gn Info/Warn/PrintErrorMessage helpers this
// project's command layer was originally written against.
package cliprint

import (
	"fmt"
	"os"
	"regexp"

	"github.com/fatih/color"

	"github.com/fieldnote/dex/pkg/errcode"
)

var emphasis = regexp.MustCompile(`<em>(.*?)</em>`)

var (
	infoColor  = color.New(color.FgCyan)
	warnColor  = color.New(color.FgYellow)
	errColor   = color.New(color.FgRed, color.Bold)
	emphColor  = color.New(color.Bold)
)

// render replaces <em>...</em> spans with bold terminal emphasis.
func render(format string, vars ...any) string {
	msg := format
	if len(vars) > 0 {
		msg = fmt.Sprintf(format, vars...)
	}
	return emphasis.ReplaceAllStringFunc(msg, func(m string) string {
		inner := emphasis.FindStringSubmatch(m)[1]
		return emphColor.Sprint(inner)
	})
}

// Info prints an informational banner to stderr.
func Info(format string, vars ...any) {
	infoColor.Fprintln(os.Stderr, render(format, vars...))
}

// Warn prints a warning banner to stderr.
func Warn(format string, vars ...any) {
	warnColor.Fprintln(os.Stderr, "warning: "+render(format, vars...))
}

// PrintErrorMessage prints a dex error in its user-facing form: the
// Msg template with emphasis rendered, never the wrapped stack/cause.
func PrintErrorMessage(err error) {
	if err == nil {
		return
	}
	if e, ok := err.(*errcode.Error); ok {
		errColor.Fprintln(os.Stderr, render(e.Msg, e.Vars...))
		return
	}
	errColor.Fprintln(os.Stderr, err.Error())
}
