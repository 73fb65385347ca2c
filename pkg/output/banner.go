package output

import (
	"fmt"
	"io"
)

// PrintBanner renders the application banner.
func PrintBanner(w io.Writer, version string) {
	banner := `
  ┌──────────────────────────────────────────────┐
  │  bigipxxe  ·  F5 BIG-IP XXE file retrieval   │
  │  CVE-2012-2997 · authenticated · in-band     │
  │  version %-36s│
  └──────────────────────────────────────────────┘
`
	fmt.Fprintf(w, banner, version)
}
