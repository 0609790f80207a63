package pep

import (
	"fmt"
	"strings"

	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"

	"github.com/JVLegend/iausp-prontuario/internal/config"
)

// DefaultFlags are passed to the launched browser when the config does
// not list any.
var DefaultFlags = []string{
	"start-maximized",
	"ignore-certificate-errors",
	"allow-insecure-localhost",
	"disable-blink-features=AutomationControlled",
	"no-sandbox",
	"disable-dev-shm-usage",
}

// Flag is a single browser command-line switch.
type Flag struct {
	Name   string
	Values []string
}

// ParseFlag parses "name", "--name" or "name=v1,v2".
func ParseFlag(raw string) (Flag, error) {
	raw = strings.TrimLeft(strings.TrimSpace(raw), "-")
	name, value, hasValue := strings.Cut(raw, "=")
	name = strings.TrimSpace(name)
	if name == "" {
		return Flag{}, fmt.Errorf("empty browser flag %q", raw)
	}
	f := Flag{Name: name}
	if hasValue {
		f.Values = strings.Split(value, ",")
	}
	return f, nil
}

// LaunchOptions is the browser launch configuration derived from config.
type LaunchOptions struct {
	Bin        string
	ControlURL string
	Headless   bool
	Flags      []Flag
}

// BuildLaunchOptions maps the browser section of cfg to LaunchOptions,
// falling back to DefaultFlags.
func BuildLaunchOptions(cfg config.BrowserConfig) (LaunchOptions, error) {
	raw := cfg.Flags
	if len(raw) == 0 {
		raw = DefaultFlags
	}
	opts := LaunchOptions{
		Bin:        cfg.Bin,
		ControlURL: cfg.ControlURL,
		Headless:   cfg.Headless,
	}
	for _, r := range raw {
		f, err := ParseFlag(r)
		if err != nil {
			return LaunchOptions{}, err
		}
		opts.Flags = append(opts.Flags, f)
	}
	return opts, nil
}

// Launcher builds a rod launcher for opts. It is unused when ControlURL
// points at an already running browser.
func (o LaunchOptions) Launcher() *launcher.Launcher {
	l := launcher.New().Headless(o.Headless).Delete(flags.Flag("enable-automation"))
	if o.Bin != "" {
		l = l.Bin(o.Bin)
	}
	for _, f := range o.Flags {
		l = l.Set(flags.Flag(f.Name), f.Values...)
	}
	return l
}
