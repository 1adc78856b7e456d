package common

import "fmt"

// StorageSize is a byte count with a human-readable String implementation,
// mirroring the teacher's common.StorageSize used throughout its storage
// and trie-database packages for log messages and CLI output.
type StorageSize float64

func (s StorageSize) String() string {
	if s > 1099511627776 {
		return fmt.Sprintf("%.2f TiB", s/1099511627776)
	} else if s > 1073741824 {
		return fmt.Sprintf("%.2f GiB", s/1073741824)
	} else if s > 1048576 {
		return fmt.Sprintf("%.2f MiB", s/1048576)
	} else if s > 1024 {
		return fmt.Sprintf("%.2f KiB", s/1024)
	}
	return fmt.Sprintf("%.2f B", s)
}

// TerminalString implements a shorter form for logging contexts that trim.
func (s StorageSize) TerminalString() string {
	return s.String()
}
