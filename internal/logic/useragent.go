package logic

import (
	"strings"

	"github.com/avct/uasurfer"
)

// UserAgentInfo is the classification of a raw User-Agent string used by
// decisions and event validation.
type UserAgentInfo struct {
	// Browser is the browser family, e.g. "Chrome".
	Browser string
	// OS is the operating system family, e.g. "Linux".
	OS       string
	IsBot    bool
	IsMobile bool

	name         uasurfer.BrowserName
	majorVersion int
}

// minSupportedVersion lists the modern browser floor. Views and clicks from
// anything older, or from families not listed here, are recorded but never
// billed. Decisions still serve them an ad.
// Chromium Edge identifies as Chrome to uasurfer, so the Chrome floor
// covers it.
var minSupportedVersion = map[uasurfer.BrowserName]int{
	uasurfer.BrowserChrome:  70,
	uasurfer.BrowserFirefox: 60,
	uasurfer.BrowserSafari:  12,
	uasurfer.BrowserOpera:   50,
	uasurfer.BrowserSamsung: 10,
}

// ParseUserAgent classifies a raw User-Agent string using uasurfer. Parse
// failures yield the zero classification, which downstream checks treat as
// unrecognized.
func ParseUserAgent(uaString string) UserAgentInfo {
	u := uasurfer.Parse(uaString)

	info := UserAgentInfo{
		Browser:      strings.TrimPrefix(u.Browser.Name.String(), "Browser"),
		OS:           strings.TrimPrefix(u.OS.Name.String(), "OS"),
		IsBot:        u.IsBot(),
		name:         u.Browser.Name,
		majorVersion: u.Browser.Version.Major,
	}
	switch u.DeviceType {
	case uasurfer.DevicePhone, uasurfer.DeviceTablet:
		info.IsMobile = true
	}
	return info
}

// Supported reports whether the UA is a recognized modern browser. Bots are
// never supported even when they spoof a modern browser string.
func (u UserAgentInfo) Supported() bool {
	if u.IsBot {
		return false
	}
	minVersion, ok := minSupportedVersion[u.name]
	if !ok {
		return false
	}
	return u.majorVersion >= minVersion
}

// Rare reports whether the browser or OS family is unknown. Rare user
// agents are persisted as a sentinel instead of the raw string.
func (u UserAgentInfo) Rare() bool {
	return u.name == uasurfer.BrowserUnknown || u.OS == "Unknown"
}
