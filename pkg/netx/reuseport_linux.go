//go:build linux

package netx

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// procNetSources lists the kernel socket tables to scan, and whether
// entries must be in TCP LISTEN state to qualify.
var procNetSources = []struct {
	path  string
	isTCP bool
}{
	{"/proc/net/tcp", true},
	{"/proc/net/tcp6", true},
	{"/proc/net/udp", false},
	{"/proc/net/udp6", false},
}

// tcpListen is the LISTEN state code in /proc/net/tcp.
const tcpListen = 0x0A

// ForceReusePort sets SO_REUSEPORT on every socket bound to port, whichever
// process owns it, so a subsequent bind on the same port can succeed.
//
// The victim's socket option is mutated irreversibly. The whole sequence is
// racy against the foreign process rebinding or exiting; callers must treat
// any error as retryable, not fatal.
func ForceReusePort(port uint16) error {
	forced := 0
	var lastErr error

	for _, src := range procNetSources {
		f, err := os.Open(src.path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return err
		}
		inodes, err := scanSocketTable(f, port, src.isTCP)
		f.Close()
		if err != nil {
			return err
		}

		for _, inode := range inodes {
			pid, fd, ok := findSocketOwner(inode)
			if !ok {
				continue
			}
			if err := dupAndSetReuse(pid, fd); err != nil {
				logrus.Debugf("force reuse pid %d fd %d: %s", pid, fd, err.Error())
				lastErr = err
				continue
			}
			forced++
		}
	}

	if forced == 0 {
		if lastErr != nil {
			return lastErr
		}
		return ErrNoMatchingSocket
	}
	return nil
}

// scanSocketTable parses a /proc/net/{tcp,udp}{,6} table and returns the
// inodes of sockets bound to port. For TCP only LISTEN sockets match.
//
// Fields (whitespace-separated):
//
//	[0] sl  [1] local:port  [2] remote:port  [3] state  ...  [9] inode
func scanSocketTable(r io.Reader, port uint16, isTCP bool) ([]uint64, error) {
	var inodes []uint64

	sc := bufio.NewScanner(r)
	sc.Scan() // header line
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 10 {
			continue
		}

		localPort := parseHexPort(fields[1])
		if localPort != port {
			continue
		}

		if isTCP {
			state, err := strconv.ParseUint(fields[3], 16, 32)
			if err != nil || state != tcpListen {
				continue
			}
		}

		inode, err := strconv.ParseUint(fields[9], 10, 64)
		if err == nil && inode > 0 {
			inodes = append(inodes, inode)
		}
	}
	return inodes, sc.Err()
}

func parseHexPort(local string) uint16 {
	idx := strings.LastIndexByte(local, ':')
	if idx < 0 {
		return 0
	}
	p, err := strconv.ParseUint(local[idx+1:], 16, 16)
	if err != nil {
		return 0
	}
	return uint16(p)
}

// findSocketOwner scans /proc/<pid>/fd symlinks for one pointing to
// socket:[<inode>].
func findSocketOwner(inode uint64) (pid int, fd int, ok bool) {
	target := fmt.Sprintf("socket:[%d]", inode)

	procs, err := os.ReadDir("/proc")
	if err != nil {
		return 0, 0, false
	}

	for _, entry := range procs {
		pid, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}

		fds, err := os.ReadDir(fmt.Sprintf("/proc/%d/fd", pid))
		if err != nil {
			continue
		}
		for _, fdEntry := range fds {
			link, err := os.Readlink(fmt.Sprintf("/proc/%d/fd/%s", pid, fdEntry.Name()))
			if err != nil || link != target {
				continue
			}
			fd, err := strconv.Atoi(fdEntry.Name())
			if err != nil {
				continue
			}
			return pid, fd, true
		}
	}
	return 0, 0, false
}

// dupAndSetReuse duplicates a socket fd out of another process via
// pidfd_getfd(2) and sets SO_REUSEPORT on the duplicate. The option lives
// on the underlying socket, so closing the duplicate keeps it in effect.
func dupAndSetReuse(pid int, fd int) error {
	pidfd, err := unix.PidfdOpen(pid, 0)
	if err != nil {
		return classifyPidfdErr(err)
	}
	defer unix.Close(pidfd)

	sockfd, err := unix.PidfdGetfd(pidfd, fd, 0)
	if err != nil {
		return classifyPidfdErr(err)
	}
	defer unix.Close(sockfd)

	if err := unix.SetsockoptInt(sockfd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
		return fmt.Errorf("%w: setsockopt: %s", ErrDuplicationFailed, err.Error())
	}
	return nil
}

func classifyPidfdErr(err error) error {
	if errors.Is(err, unix.EPERM) || errors.Is(err, unix.EACCES) {
		return fmt.Errorf("%w: %s", ErrReusePermission, err.Error())
	}
	return fmt.Errorf("%w: %s", ErrDuplicationFailed, err.Error())
}
