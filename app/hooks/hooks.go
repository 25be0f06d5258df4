// Package hooks runs user-supplied reactions to mapping changes.
package hooks

import (
	"os/exec"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/uchouT/nyat/pkg/mapper"
)

// ExecHook spawns a shell command on every mapping change. The mapping
// is exported through NYAT_* environment variables; the command's output
// is discarded so it cannot interleave with the mapping lines on stdout.
type ExecHook struct {
	cmd string
}

func NewExec(cmd string) *ExecHook {
	return &ExecHook{cmd: cmd}
}

func (h *ExecHook) OnChange(info mapper.MappingInfo) {
	cmd := exec.Command("sh", "-c", h.cmd)
	cmd.Env = append(cmd.Environ(),
		"NYAT_PUB_ADDR="+info.PubAddr.Addr().String(),
		"NYAT_PUB_PORT="+strconv.Itoa(int(info.PubAddr.Port())),
		"NYAT_LOCAL_ADDR="+info.LocalAddr.Addr().String(),
		"NYAT_LOCAL_PORT="+strconv.Itoa(int(info.LocalAddr.Port())),
	)
	if err := cmd.Start(); err != nil {
		logrus.Errorf("exec hook failed: %s", err.Error())
		return
	}
	// collect the child when it exits, whenever that is
	go cmd.Wait()
}

// Chain fans one mapping change out to several handlers in order.
func Chain(handlers ...mapper.MappingHandler) mapper.MappingHandler {
	return mapper.HandlerFunc(func(info mapper.MappingInfo) {
		for _, h := range handlers {
			h.OnChange(info)
		}
	})
}
