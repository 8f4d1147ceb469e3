package photo

import (
	"path/filepath"
	"strings"
)

// Item identifies one logical photo to download.
type Item struct {
	Date     string
	Filename string
	RemoteID string

	// Size is the total remote size when the metadata source knows it, 0 otherwise.
	Size int64
}

// NewItem builds an Item, reducing filename to its base name.
func NewItem(date, filename, remoteID string) Item {
	return Item{
		Date:     date,
		Filename: SanitizeFilename(filename),
		RemoteID: remoteID,
	}
}

// Key is the identity used for every history and failure lookup.
func (i Item) Key() string {
	return i.Date + "_" + SanitizeFilename(i.Filename) + "_" + i.RemoteID
}

// DestPath returns saveRoot/date/filename.
func (i Item) DestPath(saveRoot string) string {
	return filepath.Join(saveRoot, i.Date, SanitizeFilename(i.Filename))
}

// SanitizeFilename strips every directory component, so the result can never
// escape the date directory.
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	if idx := strings.LastIndex(name, "/"); idx >= 0 {
		name = name[idx+1:]
	}

	switch name {
	case "", ".", "..":
		return "_"
	}

	return name
}
