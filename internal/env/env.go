// Package env derives participant environment details from request metadata.
package env

import (
	"fmt"
	"strings"

	"github.com/mileusna/useragent"
)

// Unknown is used for every part that cannot be determined.
const Unknown = "unknown"

// Device types.
const (
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
	DeviceDesktop = "desktop"
	DeviceBot     = "bot"
)

// Environment describes the participant's device.
type Environment struct {
	Device          string `json:"device"`
	OperatingSystem string `json:"operating_system"`
	Browser         string `json:"browser"`
	Language        string `json:"language"`
}

// Detect parses a User-Agent header. An empty header yields all parts unknown.
func Detect(userAgent string) Environment {
	e := Environment{Device: Unknown, OperatingSystem: Unknown, Browser: Unknown, Language: Unknown}
	if strings.TrimSpace(userAgent) == "" {
		return e
	}

	ua := useragent.Parse(userAgent)
	switch {
	case ua.Bot:
		e.Device = DeviceBot
	case ua.Tablet:
		e.Device = DeviceTablet
	case ua.Mobile:
		e.Device = DeviceMobile
	case ua.Desktop:
		e.Device = DeviceDesktop
	}
	if ua.OS != "" {
		e.OperatingSystem = ua.OS
	}
	if ua.Name != "" {
		e.Browser = strings.TrimSpace(ua.Name + " " + ua.Version)
	}
	return e
}

// DetectRequest combines the User-Agent and Accept-Language headers.
func DetectRequest(userAgent, acceptLanguage string) Environment {
	e := Detect(userAgent)
	if lang := PrimaryLanguage(acceptLanguage); lang != "" {
		e.Language = lang
	}
	return e
}

// PrimaryLanguage returns the first tag of an Accept-Language header, without quality.
func PrimaryLanguage(header string) string {
	first, _, _ := strings.Cut(header, ",")
	tag, _, _ := strings.Cut(first, ";")
	return strings.TrimSpace(tag)
}

// SurveyURL builds the follow-up survey link. The survey id is the study id
// padded to two digits followed by the result id padded to six digits.
// A missing study id is written as "00".
func SurveyURL(hostPath string, studyID *int, resultID string) string {
	study := "00"
	if studyID != nil {
		study = fmt.Sprintf("%02d", *studyID)
	}
	result := resultID
	for len(result) < 6 {
		result = "0" + result
	}
	return hostPath + "?q=DST_video&r=" + study + result
}
