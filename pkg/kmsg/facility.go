// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package kmsg

import "fmt"

// Facility is a syslog facility: the kernel subsystem class that produced a
// message. Values 0-23 mirror the standard syslog facility numbering.
type Facility uint8

const (
	FacilityKern Facility = iota
	FacilityUser
	FacilityMail
	FacilityDaemon
	FacilityAuth
	FacilitySyslog
	FacilityLPR
	FacilityNews
	FacilityUUCP
	FacilityCron
	FacilityAuthPriv
	FacilityFTP
	FacilityNTP
	FacilityAudit
	FacilityAlert
	FacilityClockD
	FacilityLocal0
	FacilityLocal1
	FacilityLocal2
	FacilityLocal3
	FacilityLocal4
	FacilityLocal5
	FacilityLocal6
	FacilityLocal7
)

var facilityNames = [...]string{
	"kern", "user", "mail", "daemon", "auth", "syslog", "lpr", "news",
	"uucp", "cron", "authpriv", "ftp", "ntp", "audit", "alert", "clockd",
	"local0", "local1", "local2", "local3", "local4", "local5", "local6", "local7",
}

func (f Facility) String() string {
	if int(f) < len(facilityNames) {
		return facilityNames[f]
	}
	return fmt.Sprintf("facility(%d)", uint8(f))
}

// ParseFacility decodes a facility index (0-23) into a Facility. It returns
// false if the index is outside the standard syslog facility range.
func ParseFacility(n uint32) (Facility, bool) {
	if n >= uint32(len(facilityNames)) {
		return 0, false
	}
	return Facility(n), true
}

// Level is a syslog severity, Emergency (0) through Debug (7).
type Level uint8

const (
	LevelEmergency Level = iota
	LevelAlert
	LevelCritical
	LevelError
	LevelWarning
	LevelNotice
	LevelInfo
	LevelDebug
)

var levelNames = [...]string{
	"emerg", "alert", "crit", "err", "warning", "notice", "info", "debug",
}

func (l Level) String() string {
	if int(l) < len(levelNames) {
		return levelNames[l]
	}
	return fmt.Sprintf("level(%d)", uint8(l))
}

// ParseLevel decodes a severity index (0-7) into a Level. It returns false
// if the index is outside the standard syslog severity range.
func ParseLevel(n uint32) (Level, bool) {
	if n >= uint32(len(levelNames)) {
		return 0, false
	}
	return Level(n), true
}

// DecodeFacLev splits a combined /dev/kmsg priority field into its facility
// and level. The kernel packs these as (facility << 3) | level.
func DecodeFacLev(faclev uint32) (Facility, Level, bool) {
	facility, ok := ParseFacility(faclev >> 3)
	if !ok {
		return 0, 0, false
	}
	level, ok := ParseLevel(faclev & 0x7)
	if !ok {
		return 0, 0, false
	}
	return facility, level, true
}
