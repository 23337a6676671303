package bplog

import (
	"github.com/fatih/color"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"os"
)

func init() {
	if !isatty.IsTerminal(os.Stdout.Fd()) {
		color.Output = colorable.NewNonColorable(os.Stdout)
	}
}

func Cyan(s string) string    { return colorize(color.FgHiCyan, s) }
func Green(s string) string   { return colorize(color.FgHiGreen, s) }
func Magenta(s string) string { return colorize(color.FgHiMagenta, s) }
func Yellow(s string) string  { return colorize(color.FgHiYellow, s) }
func Red(s string) string     { return colorize(color.FgHiRed, s) }

func colorize(attr color.Attribute, s string) string {
	c := color.New(attr)
	c.EnableColor()
	return c.SprintFunc()(s)
}
