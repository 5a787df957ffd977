package db

import (
	"regexp"
	"strings"
	"unicode"
)

var invalidTableChars = regexp.MustCompile(`[^a-zA-Z0-9_]`)

// StageTableName derives the per-file staging table name from the
// source filename: the stem with invalid characters replaced, prefixed
// with stage_. Only the final extension is stripped, so x.csv.gz maps
// to stage_x_csv.
func StageTableName(filename string) string {
	stem := filename
	if i := strings.LastIndex(filename, "."); i > 0 {
		stem = filename[:i]
	}
	name := invalidTableChars.ReplaceAllString(stem, "_")
	if name == "" || !unicode.IsLetter(rune(name[0])) {
		name = "t_" + name
	}
	return "stage_" + name
}
