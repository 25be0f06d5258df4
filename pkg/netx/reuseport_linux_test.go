//go:build linux

package netx

import (
	"strings"
	"testing"
)

// captured from a real /proc/net/tcp; port 0x0FE6 = 4070 is LISTEN,
// port 0x1F90 = 8080 is ESTABLISHED and must not match.
const sampleTCP = `  sl  local_address rem_address   st tx_queue rx_queue tr tm->when retrnsmt   uid  timeout inode
   0: 00000000:0FE6 00000000:0000 0A 00000000:00000000 00:00000000 00000000  1000        0 31843 1 0000000000000000 100 0 0 10 0
   1: 0100007F:1F90 0100007F:C350 01 00000000:00000000 00:00000000 00000000  1000        0 31900 1 0000000000000000 20 4 30 10 -1
   2: 00000000:0FE6 00000000:0000 0A 00000000:00000000 00:00000000 00000000     0        0 31901 1 0000000000000000 100 0 0 10 0
`

const sampleUDP = `  sl  local_address rem_address   st tx_queue rx_queue tr tm->when retrnsmt   uid  timeout inode ref pointer drops
 2296: 00000000:0FE6 00000000:0000 07 00000000:00000000 00:00000000 00000000  1000        0 22x45 2 0000000000000000 0
 2296: 00000000:0FE6 00000000:0000 07 00000000:00000000 00:00000000 00000000  1000        0 22045 2 0000000000000000 0
`

func TestScanSocketTableTCP(t *testing.T) {
	inodes, err := scanSocketTable(strings.NewReader(sampleTCP), 4070, true)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(inodes) != 2 || inodes[0] != 31843 || inodes[1] != 31901 {
		t.Fatalf("inodes = %v, want [31843 31901]", inodes)
	}

	// ESTABLISHED socket on its port must not qualify
	inodes, err = scanSocketTable(strings.NewReader(sampleTCP), 8080, true)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(inodes) != 0 {
		t.Fatalf("inodes = %v, want none", inodes)
	}
}

func TestScanSocketTableUDP(t *testing.T) {
	// UDP has no LISTEN filter; malformed lines are skipped
	inodes, err := scanSocketTable(strings.NewReader(sampleUDP), 4070, false)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(inodes) != 1 || inodes[0] != 22045 {
		t.Fatalf("inodes = %v, want [22045]", inodes)
	}
}

func TestParseHexPort(t *testing.T) {
	if p := parseHexPort("00000000:0FE6"); p != 4070 {
		t.Fatalf("port = %d, want 4070", p)
	}
	if p := parseHexPort("00000000000000000000000001000000:0050"); p != 80 {
		t.Fatalf("port = %d, want 80", p)
	}
	if p := parseHexPort("garbage"); p != 0 {
		t.Fatalf("port = %d, want 0", p)
	}
}
