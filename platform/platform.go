// Package platform names the target navigator platforms.
package platform

import "fmt"

// Platform is a navigator.platform value.
type Platform string

const (
	Win32    Platform = "Win32"
	MacIntel Platform = "MacIntel"
)

// All lists the supported platforms.
var All = []Platform{Win32, MacIntel}

// Parse accepts the DOM value or a common alias.
func Parse(s string) (Platform, error) {
	switch s {
	case "Win32", "Windows":
		return Win32, nil
	case "MacIntel", "macOS", "Macintosh":
		return MacIntel, nil
	}
	return "", fmt.Errorf("platform: unknown platform %q", s)
}

// Tag is the short prefix used in accepted font file names.
func (p Platform) Tag() string {
	if p == Win32 {
		return "W32"
	}
	return "mac"
}

// NamePlatformID is the OpenType name-table platform ID fonts report on p.
func (p Platform) NamePlatformID() int {
	if p == Win32 {
		return 3
	}
	return 1
}

// HintName is the Sec-CH-UA-Platform value for p.
func (p Platform) HintName() string {
	if p == Win32 {
		return "Windows"
	}
	return "macOS"
}

func (p Platform) String() string { return string(p) }
