// Package lineproto serializes unit snapshots into the line-protocol records
// consumed by the Telegraf socket listener.
package lineproto

import (
	"fmt"
	"strconv"
	"strings"

	"git.home.luguber.info/inful/unitmon/internal/identity"
	"git.home.luguber.info/inful/unitmon/internal/systemd"
)

// tagEscaper quotes characters with special meaning inside quoted tag values.
var tagEscaper = strings.NewReplacer(
	`"`, `\"`,
	`,`, `\,`,
	` `, `\ `,
	`=`, `\=`,
)

// Encode produces one line-protocol record for a unit snapshot.
//
// Tag order is fixed for determinism. Integer fields carry the `i` suffix to
// force integer typing downstream. Resource fields whose value is the
// systemd unset sentinel are omitted entirely rather than emitted as zero.
func Encode(measurement string, snap systemd.UnitSnapshot, session identity.Session, tsNanos int64) ([]byte, error) {
	if measurement == "" {
		return nil, fmt.Errorf("encode %s: empty measurement", snap.Name)
	}
	if snap.Name == "" {
		return nil, fmt.Errorf("encode: empty unit name")
	}

	var b strings.Builder
	b.Grow(256)

	b.WriteString(measurement)
	writeTag(&b, "unit", snap.Name)
	writeTag(&b, "active_state", snap.ActiveState)
	writeTag(&b, "sub_state", snap.SubState)
	writeTag(&b, "load_state", snap.LoadState)
	writeTag(&b, "unit_file_state", snap.UnitFileState)
	writeTag(&b, "username", session.Username)
	writeTag(&b, "uid", strconv.Itoa(session.UID))

	b.WriteByte(' ')
	b.WriteString("main_pid=")
	b.WriteString(strconv.FormatUint(uint64(snap.MainPID), 10))
	b.WriteString("i,restart_count=")
	b.WriteString(strconv.FormatUint(uint64(snap.RestartCount), 10))
	b.WriteByte('i')
	if snap.MemoryCurrent != systemd.PropertyUnset {
		b.WriteString(",memory_current=")
		b.WriteString(strconv.FormatUint(snap.MemoryCurrent, 10))
		b.WriteByte('i')
	}
	if snap.CPUUsageNSec != systemd.PropertyUnset {
		b.WriteString(",cpu_usage_nsec=")
		b.WriteString(strconv.FormatUint(snap.CPUUsageNSec, 10))
		b.WriteByte('i')
	}

	b.WriteByte(' ')
	b.WriteString(strconv.FormatInt(tsNanos, 10))
	b.WriteByte('\n')

	return []byte(b.String()), nil
}

func writeTag(b *strings.Builder, key, value string) {
	b.WriteByte(',')
	b.WriteString(key)
	b.WriteString(`="`)
	b.WriteString(tagEscaper.Replace(value))
	b.WriteByte('"')
}
