package mtd

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/sarchlab/mboxd/errkind"
)

// findPNOR maps the "pnor" entry of /proc/mtd to its device node.
func findPNOR(procMTD string) (string, error) {
	content, err := os.ReadFile(procMTD)
	if err != nil {
		return "", errkind.Wrap(errkind.Configuration, "mtd discover", err)
	}

	for _, line := range strings.Split(string(content), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 4 || fields[3] != `"pnor"` {
			continue
		}

		name := strings.TrimSuffix(fields[0], ":")

		return filepath.Join("/dev", name), nil
	}

	return "", errkind.New(errkind.Configuration, "mtd discover",
		"no pnor partition in %s", procMTD)
}
