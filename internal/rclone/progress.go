package rclone

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/immich-backup/backup/internal/core/model"
)

// Parser implements ports.ProgressParser against rclone's two diagnostic
// line shapes: the --use-json-log structured stats object, and the plain
// "Transferred: ..." text line rclone also emits for -v runs without
// --use-json-log. Both are tried on every line because a sync invocation
// may mix informational log lines with the periodic stats line, and most
// lines (debug chatter, file-level transfer notices) match neither.
type Parser struct{}

// NewParser returns a stateless rclone progress line parser.
func NewParser() *Parser {
	return &Parser{}
}

// These list the tolerated JSON key spellings for each stat,
// since rclone has varied these across versions and with --stats-one-line.
var (
	bytesKeys      = []string{"bytes", "bytesTransferred"}
	totalBytesKeys = []string{"totalBytes", "bytesTotal"}
	transfersKeys  = []string{"transfers", "filesTransferred"}
	totalTransKeys = []string{"totalTransfers", "filesTotal"}
	speedKeys      = []string{"speed", "speedAvg"}
	etaKeys        = []string{"eta", "etaSeconds"}
)

func (p *Parser) Parse(line string) (*model.Progress, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, false
	}
	if line[0] == '{' {
		if progress, ok := parseStructured(line); ok {
			return progress, true
		}
	}
	return parseTextual(line)
}

// parseStructured reads the stat fields from the line's "stats" sub-object
// when present (rclone's --use-json-log stats-notice shape); lines that
// carry the same fields at the top level instead (--stats-one-line-date's
// flatter shape, and some older rclone versions) are read from the root
// object itself, so either shape yields a Progress rather than a miss.
func parseStructured(line string) (*model.Progress, bool) {
	if !gjson.Valid(line) {
		return nil, false
	}
	root := gjson.Parse(line)
	stats := root.Get("stats")
	if !stats.Exists() {
		stats = root
	}

	if !firstExists(stats, bytesKeys) && !firstExists(stats, transfersKeys) {
		return nil, false
	}

	progress := &model.Progress{
		BytesTransferred: firstInt(stats, bytesKeys),
		BytesTotal:       firstInt(stats, totalBytesKeys),
		FilesTransferred: firstInt(stats, transfersKeys),
		FilesTotal:       firstInt(stats, totalTransKeys),
		Speed:            firstFloat(stats, speedKeys),
	}

	if etaSeconds, ok := firstIntOK(stats, etaKeys); ok && etaSeconds >= 0 {
		d := time.Duration(etaSeconds) * time.Second
		progress.Eta = &d
	}

	return progress, true
}

func firstExists(result gjson.Result, keys []string) bool {
	for _, key := range keys {
		if result.Get(key).Exists() {
			return true
		}
	}
	return false
}

func firstInt(result gjson.Result, keys []string) int64 {
	v, _ := firstIntOK(result, keys)
	return v
}

func firstIntOK(result gjson.Result, keys []string) (int64, bool) {
	for _, key := range keys {
		if v := result.Get(key); v.Exists() {
			return v.Int(), true
		}
	}
	return 0, false
}

func firstFloat(result gjson.Result, keys []string) float64 {
	for _, key := range keys {
		if v := result.Get(key); v.Exists() {
			return v.Float()
		}
	}
	return 0
}

// transferredLineRe matches rclone's textual stats line, e.g.:
// "Transferred:   	  1.234 GiB / 10.500 GiB, 12%, 5.2 MiB/s, ETA 3m25s"
// or the file-count variant: "Transferred:            3 / 10, 30%"
var transferredLineRe = regexp.MustCompile(
	`Transferred:\s+([\d.]+)\s*([KMGT]?i?B)?\s*/\s*([\d.]+)\s*([KMGT]?i?B)?,\s*\d+%(?:,\s*([\d.]+)\s*([KMGT]?i?B)/s)?(?:,\s*ETA\s+(\S+))?`,
)

func parseTextual(line string) (*model.Progress, bool) {
	m := transferredLineRe.FindStringSubmatch(line)
	if m == nil {
		return nil, false
	}

	transferred, unit1 := m[1], m[2]
	total, unit2 := m[3], m[4]
	speedVal, speedUnit := m[5], m[6]
	eta := m[7]

	progress := &model.Progress{}

	if unit1 == "" && unit2 == "" {
		// No byte units present: this is the file-count variant, e.g. "3 / 10".
		progress.FilesTransferred = parseIntOrZero(transferred)
		progress.FilesTotal = parseIntOrZero(total)
	} else {
		progress.BytesTransferred = int64(parseBytes(transferred, unit1))
		progress.BytesTotal = int64(parseBytes(total, unit2))
	}

	if speedVal != "" {
		progress.Speed = parseBytes(speedVal, speedUnit).asFloat()
	}

	if eta != "" && eta != "-" {
		if d, err := time.ParseDuration(eta); err == nil {
			progress.Eta = &d
		}
	}

	return progress, true
}

func parseIntOrZero(s string) int64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return int64(f)
}

type byteCount int64

func (b byteCount) asFloat() float64 { return float64(b) }

var unitMultiplier = map[string]int64{
	"":    1,
	"B":   1,
	"KiB": 1 << 10,
	"MiB": 1 << 20,
	"GiB": 1 << 30,
	"TiB": 1 << 40,
}

func parseBytes(value, unit string) byteCount {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0
	}
	mult, ok := unitMultiplier[unit]
	if !ok {
		mult = 1
	}
	return byteCount(f * float64(mult))
}
